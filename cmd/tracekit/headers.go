package main

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strings"
)

// headerFlags holds the header sources shared by inspect and decide.
type headerFlags struct {
	headers []string
	stdin   bool
}

// parseHeaders builds a header set from "Name: value" flag values. When
// stdin is set, a MIME header block is read from r first.
func (f headerFlags) parseHeaders(r io.Reader) (http.Header, error) {
	h := http.Header{}

	if f.stdin {
		tp := textproto.NewReader(bufio.NewReader(r))
		mime, err := tp.ReadMIMEHeader()
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read headers from stdin: %w", err)
		}
		for k, vs := range mime {
			for _, v := range vs {
				h.Add(k, v)
			}
		}
	}

	for _, raw := range f.headers {
		name, value, ok := strings.Cut(raw, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q (expected \"Name: value\")", raw)
		}
		h.Add(name, strings.TrimSpace(value))
	}

	return h, nil
}
