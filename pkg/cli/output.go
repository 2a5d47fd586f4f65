package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// OutputFormat represents the output format for command results.
type OutputFormat string

const (
	// FormatText is aligned key/value text (default).
	FormatText OutputFormat = "text"
	// FormatJSON is a JSON object.
	FormatJSON OutputFormat = "json"
	// FormatCSV is key,value rows with a header.
	FormatCSV OutputFormat = "csv"
)

// Field is one line of command output.
type Field struct {
	Key   string
	Value string
}

// Record is an ordered set of fields.
type Record []Field

// Add returns r with key=value appended.
func (r Record) Add(key, value string) Record {
	return append(r, Field{Key: key, Value: value})
}

// Addf appends a formatted value.
func (r Record) Addf(key, format string, args ...any) Record {
	return r.Add(key, fmt.Sprintf(format, args...))
}

// Get returns the value of the first field named key.
func (r Record) Get(key string) (string, bool) {
	for _, f := range r {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Map returns the fields as a map. Later duplicates win.
func (r Record) Map() map[string]string {
	m := make(map[string]string, len(r))
	for _, f := range r {
		m[f.Key] = f.Value
	}
	return m
}

// Formatter formats command output.
type Formatter interface {
	FormatTo(w io.Writer, rec Record) error
}

// TextFormatter writes one aligned "key  value" line per field.
type TextFormatter struct{}

// FormatTo writes rec to w in text format.
func (f *TextFormatter) FormatTo(w io.Writer, rec Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, field := range rec {
		if _, err := fmt.Fprintf(tw, "%s\t%s\n", field.Key, field.Value); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// JSONFormatter writes rec as a JSON object.
type JSONFormatter struct {
	Indent bool
}

// FormatTo writes rec to w in JSON format.
func (f *JSONFormatter) FormatTo(w io.Writer, rec Record) error {
	encoder := json.NewEncoder(w)
	if f.Indent {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(rec.Map())
}

// CSVFormatter writes a header row followed by one row per field.
type CSVFormatter struct {
	Headers []string
}

// FormatTo writes rec to w in CSV format.
func (f *CSVFormatter) FormatTo(w io.Writer, rec Record) error {
	csvWriter := csv.NewWriter(w)

	headers := f.Headers
	if len(headers) == 0 {
		headers = []string{"key", "value"}
	}
	if err := csvWriter.Write(headers); err != nil {
		return err
	}

	for _, field := range rec {
		if err := csvWriter.Write([]string{field.Key, field.Value}); err != nil {
			return err
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// NewFormatter creates a new formatter for the specified format.
func NewFormatter(format OutputFormat) (Formatter, error) {
	switch OutputFormat(strings.ToLower(string(format))) {
	case FormatText, "":
		return &TextFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{Indent: true}, nil
	case FormatCSV:
		return &CSVFormatter{}, nil
	default:
		return nil, NewConfigError("output", fmt.Sprintf("unknown output format %q (want text, json or csv)", format))
	}
}
