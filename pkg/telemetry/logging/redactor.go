package logging

import (
	"log/slog"
	"regexp"
	"strings"

	"mercator-hq/tracekit/pkg/config"
)

// Redactor redacts PII (Personally Identifiable Information) from log fields.
// User data set on a tracing scope (email, IP address, username) ends up in
// log lines through error messages and request paths, so values are scanned
// as well as keys.
type Redactor struct {
	patterns []redactPattern
}

// redactPattern is a compiled regex with either a replacement template or a
// replacement function.
type redactPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
	replace     func(string) string
}

func (p redactPattern) apply(s string) string {
	if p.replace != nil {
		return p.regex.ReplaceAllStringFunc(s, p.replace)
	}
	return p.regex.ReplaceAllString(s, p.replacement)
}

// Common PII pattern names.
const (
	PatternBearerToken = "bearer_token"
	PatternAPIKey      = "api_key"
	PatternPassword    = "password"
	PatternEmail       = "email"
	PatternIPv6        = "ipv6"
	PatternIPv4        = "ipv4"
	PatternCreditCard  = "credit_card"
	PatternSSN         = "ssn"
	PatternPhone       = "phone"
)

// defaultPatterns run in order: tokens before generic digit runs, credit
// cards before the shorter SSN and phone shapes.
var defaultPatterns = []redactPattern{
	{name: PatternBearerToken, regex: regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-._~+/]+=*`), replacement: "Bearer ***"},
	{name: PatternAPIKey, regex: regexp.MustCompile(`sk-[a-zA-Z0-9]+`), replace: RedactAPIKey},
	{name: PatternPassword, regex: regexp.MustCompile(`(password|passwd|pwd)[:=]\s*[^\s,&]+`), replacement: "$1=***"},
	{name: PatternEmail, regex: regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), replace: RedactEmail},
	{name: PatternIPv6, regex: regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}\b`), replacement: "****:****:****:****:****:****:****:****"},
	{name: PatternIPv4, regex: regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), replace: RedactIPv4},
	{name: PatternCreditCard, regex: regexp.MustCompile(`\b(?:\d[ -]?){12,15}\d\b`), replace: RedactCreditCard},
	{name: PatternSSN, regex: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), replacement: "***-**-****"},
	{name: PatternPhone, regex: regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`), replacement: "***-***-****"},
}

// sensitiveKeys mark fields whose whole value is hidden.
var sensitiveKeys = []string{
	"password", "passwd", "pwd",
	"secret", "token", "api_key", "apikey",
	"auth", "cookie",
	"credit_card", "creditcard",
	"private_key", "privatekey",
	"email", "ip_address",
}

// NewRedactor creates a Redactor with the default patterns followed by the
// custom ones. Custom patterns that do not compile are skipped; config
// validation reports them.
func NewRedactor(customPatterns []config.RedactPattern) *Redactor {
	r := &Redactor{
		patterns: append([]redactPattern(nil), defaultPatterns...),
	}

	for _, p := range customPatterns {
		regex, err := regexp.Compile(p.Pattern)
		if err != nil {
			continue
		}
		r.patterns = append(r.patterns, redactPattern{
			name:        p.Name,
			regex:       regex,
			replacement: p.Replacement,
		})
	}

	return r
}

// RedactString redacts PII from a string value.
func (r *Redactor) RedactString(value string) string {
	if value == "" {
		return value
	}
	for _, p := range r.patterns {
		value = p.apply(value)
	}
	return value
}

// RedactAttr redacts a log attribute. Sensitive keys hide the whole value,
// other string values are scanned, groups are walked.
func (r *Redactor) RedactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()

	switch v.Kind() {
	case slog.KindGroup:
		group := v.Group()
		out := make([]any, len(group))
		for i, g := range group {
			out[i] = r.RedactAttr(g)
		}
		return slog.Group(a.Key, out...)
	case slog.KindString:
		if isSensitiveKey(a.Key) {
			return slog.String(a.Key, maskValue(v.String()))
		}
		return slog.String(a.Key, r.RedactString(v.String()))
	case slog.KindAny:
		if isSensitiveKey(a.Key) {
			return slog.String(a.Key, "***")
		}
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, r.RedactString(err.Error()))
		}
		return slog.Attr{Key: a.Key, Value: v}
	default:
		if isSensitiveKey(a.Key) {
			return slog.String(a.Key, "***")
		}
		return slog.Attr{Key: a.Key, Value: v}
	}
}

// isSensitiveKey checks if a key name indicates sensitive data.
func isSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(lowerKey, sensitive) {
			return true
		}
	}
	return false
}

// maskValue keeps a short prefix of long values for debugging.
func maskValue(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return "***"
	}
	return v[:4] + "***"
}

// RedactEmail redacts an email address partially (shows first char and domain).
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return email
	}

	username := parts[0]
	domain := parts[1]

	if len(username) == 0 {
		return "***@" + domain
	}

	return string(username[0]) + "***@" + domain
}

// RedactAPIKey redacts an API key, keeping only a prefix.
func RedactAPIKey(apiKey string) string {
	return maskValue(apiKey)
}

// RedactIPv4 redacts an IPv4 address, keeping only the first octet.
func RedactIPv4(ip string) string {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return ip
	}

	return parts[0] + ".*.*.*"
}

// RedactCreditCard redacts a credit card number, keeping only last 4 digits.
func RedactCreditCard(cc string) string {
	cleaned := strings.ReplaceAll(cc, " ", "")
	cleaned = strings.ReplaceAll(cleaned, "-", "")

	if len(cleaned) < 13 || len(cleaned) > 16 {
		return cc
	}

	last4 := cleaned[len(cleaned)-4:]
	return "****-****-****-" + last4
}
