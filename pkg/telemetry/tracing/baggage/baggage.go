// Package baggage parses and serializes the W3C baggage header while keeping
// every member's original bytes.
//
// Only members carrying the vendor prefix are interpreted (see package dsc).
// All other members are opaque: they are kept in their original position and
// re-emitted byte-for-byte, so Parse(h).String() == h for any input.
package baggage

import (
	"net/url"
	"strings"
)

// Header is the baggage header name.
const Header = "baggage"

// VendorPrefix marks members that carry dynamic sampling context.
const VendorPrefix = "sentry-"

// Limits from the W3C baggage recommendation. They only apply to members
// produced by this package; parsed input is never truncated.
const (
	MaxMembers     = 180
	MaxHeaderBytes = 8192
)

// Member is one list-member of a baggage header.
type Member struct {
	raw string

	// Key and Value are the trimmed, percent-decoded key and value. They are
	// empty when the member is not a key=value pair.
	Key   string
	Value string

	// Properties is the raw text after the first ';', if any.
	Properties string

	valid bool
}

// NewMember builds a member from a key and an unencoded value.
func NewMember(key, value string) Member {
	return Member{
		raw:   key + "=" + url.PathEscape(value),
		Key:   key,
		Value: value,
		valid: key != "",
	}
}

// Raw returns the member exactly as it appeared on the wire.
func (m Member) Raw() string { return m.raw }

// Valid reports whether the member is a key=value pair.
func (m Member) Valid() bool { return m.valid }

// IsVendor reports whether the member carries the vendor prefix.
func (m Member) IsVendor() bool {
	return m.valid && strings.HasPrefix(m.Key, VendorPrefix)
}

// VendorKey returns the key without the vendor prefix.
func (m Member) VendorKey() string {
	return strings.TrimPrefix(m.Key, VendorPrefix)
}

func parseMember(raw string) Member {
	m := Member{raw: raw}

	kv := raw
	if i := strings.IndexByte(raw, ';'); i >= 0 {
		kv = raw[:i]
		m.Properties = raw[i+1:]
	}

	k, v, ok := strings.Cut(kv, "=")
	if !ok {
		return m
	}
	k = strings.TrimSpace(k)
	if k == "" || strings.ContainsAny(k, " \t\"") {
		return m
	}

	v = strings.TrimSpace(v)
	if dec, err := url.PathUnescape(v); err == nil {
		v = dec
	}

	m.Key = k
	m.Value = v
	m.valid = true
	return m
}

// Baggage is an ordered, immutable list of members.
type Baggage struct {
	members []Member
}

// Parse parses a single baggage header value. It never fails: members that
// are not key=value pairs are kept raw and ignored by lookups.
func Parse(header string) Baggage {
	if header == "" {
		return Baggage{}
	}
	parts := strings.Split(header, ",")
	members := make([]Member, 0, len(parts))
	for _, p := range parts {
		members = append(members, parseMember(p))
	}
	return Baggage{members: members}
}

// ParseHeaderValues parses a header that arrived as several field lines.
// The lines are combined with "," as HTTP allows for list-valued headers.
func ParseHeaderValues(values []string) Baggage {
	nonEmpty := values[:0:0]
	for _, v := range values {
		if v != "" {
			nonEmpty = append(nonEmpty, v)
		}
	}
	return Parse(strings.Join(nonEmpty, ","))
}

// String serializes the baggage. For parsed input this is the original text.
func (b Baggage) String() string {
	if len(b.members) == 0 {
		return ""
	}
	raw := make([]string, len(b.members))
	for i, m := range b.members {
		raw[i] = m.raw
	}
	return strings.Join(raw, ",")
}

// Len returns the number of members, including invalid ones.
func (b Baggage) Len() int { return len(b.members) }

// Members returns a copy of the members in order.
func (b Baggage) Members() []Member {
	out := make([]Member, len(b.members))
	copy(out, b.members)
	return out
}

// Get returns the decoded value of the first member with the given key.
func (b Baggage) Get(key string) (string, bool) {
	for _, m := range b.members {
		if m.valid && m.Key == key {
			return m.Value, true
		}
	}
	return "", false
}

// VendorMembers returns the vendor-prefixed members in order.
func (b Baggage) VendorMembers() []Member {
	var out []Member
	for _, m := range b.members {
		if m.IsVendor() {
			out = append(out, m)
		}
	}
	return out
}

// ThirdParty returns the baggage without vendor-prefixed members. Invalid
// members are kept so they still pass through.
func (b Baggage) ThirdParty() Baggage {
	out := make([]Member, 0, len(b.members))
	for _, m := range b.members {
		if !m.IsVendor() && m.raw != "" {
			out = append(out, m)
		}
	}
	return Baggage{members: out}
}

// With returns a new Baggage with members appended. Appending stops at
// MaxMembers or when the serialized form would exceed MaxHeaderBytes.
func (b Baggage) With(members ...Member) Baggage {
	out := make([]Member, len(b.members), len(b.members)+len(members))
	copy(out, b.members)

	size := len(b.String())
	for _, m := range members {
		if len(out) >= MaxMembers {
			break
		}
		add := len(m.raw)
		if len(out) > 0 {
			add++
		}
		if size+add > MaxHeaderBytes {
			break
		}
		out = append(out, m)
		size += add
	}
	return Baggage{members: out}
}
