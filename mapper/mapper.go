// Package mapper translates between the dashboard's frontend conventions and
// the versioned backend API: request paths, payload key casing, and the
// response envelope. Every function is pure.
package mapper

import (
	"encoding/json"
	"errors"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultVersionPrefix is prepended to every mapped path.
const DefaultVersionPrefix = "/api/v1"

// ErrInvalidJSON is returned when a payload cannot be parsed.
var ErrInvalidJSON = errors.New("mapper: invalid JSON payload")

// Rule rewrites a frontend path prefix to a backend path prefix.
type Rule struct {
	From string
	To   string
}

// DefaultRules are the frontend routes whose backend location differs.
var DefaultRules = []Rule{
	{From: "/brain-models", To: "/patients/brain-models"},
	{From: "/treatment-predictions", To: "/ml/treatment-response"},
	{From: "/digital-twins", To: "/ml/digital-twin"},
}

// Mapper holds the path rules and field renames. It is immutable after New.
type Mapper struct {
	prefix  string
	rules   []Rule
	renames []Rule
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithVersionPrefix replaces DefaultVersionPrefix. An empty prefix disables it.
func WithVersionPrefix(prefix string) Option {
	return func(m *Mapper) {
		m.prefix = "/" + strings.Trim(prefix, "/")
		if m.prefix == "/" {
			m.prefix = ""
		}
	}
}

// WithRules replaces DefaultRules.
func WithRules(rules ...Rule) Option {
	return func(m *Mapper) {
		m.rules = slices.Clone(rules)
	}
}

// WithFieldRename moves a request field after case conversion. Paths use
// gjson/sjson dot syntax on snake_case keys, e.g. "patient.mrn".
func WithFieldRename(from, to string) Option {
	return func(m *Mapper) {
		m.renames = append(m.renames, Rule{From: from, To: to})
	}
}

// New creates a Mapper with the default prefix and rules.
func New(opts ...Option) *Mapper {
	m := &Mapper{
		prefix: DefaultVersionPrefix,
		rules:  slices.Clone(DefaultRules),
	}
	for _, opt := range opts {
		opt(m)
	}
	// longest frontend prefix wins
	slices.SortStableFunc(m.rules, func(a, b Rule) int {
		return len(b.From) - len(a.From)
	})
	return m
}

// Path rewrites a frontend-relative path to its backend location. Absolute
// URLs and paths that already carry the version prefix are returned unchanged.
// The query string is preserved.
func (m *Mapper) Path(p string) string {
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return p
	}

	path, query, hasQuery := strings.Cut(p, "?")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	if m.prefix == "" || !hasSegmentPrefix(path, m.prefix) {
		for _, rule := range m.rules {
			if hasSegmentPrefix(path, rule.From) {
				path = rule.To + strings.TrimPrefix(path, rule.From)
				break
			}
		}
		path = m.prefix + path
	}

	if hasQuery {
		return path + "?" + query
	}
	return path
}

// Request converts payload keys to snake_case and applies field renames.
// An empty body is returned as is.
func (m *Mapper) Request(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return body, nil
	}
	out, err := transformKeys(body, ToSnake)
	if err != nil {
		return nil, err
	}
	for _, r := range m.renames {
		value := gjson.GetBytes(out, r.From)
		if !value.Exists() {
			continue
		}
		if out, err = sjson.SetRawBytes(out, r.To, []byte(value.Raw)); err != nil {
			return nil, err
		}
		if out, err = sjson.DeleteBytes(out, r.From); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Response converts payload keys to camelCase.
func (m *Mapper) Response(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return body, nil
	}
	return transformKeys(body, ToCamel)
}

func hasSegmentPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := path[len(prefix):]
	return rest == "" || rest[0] == '/'
}

// transformKeys rewrites every object key in body with fn, recursively.
func transformKeys(body []byte, fn func(string) string) ([]byte, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidJSON
	}
	var sb strings.Builder
	sb.Grow(len(body))
	writeTransformed(&sb, gjson.ParseBytes(body), fn)
	return []byte(sb.String()), nil
}

func writeTransformed(sb *strings.Builder, r gjson.Result, fn func(string) string) {
	switch {
	case r.IsObject():
		sb.WriteByte('{')
		first := true
		r.ForEach(func(key, value gjson.Result) bool {
			if !first {
				sb.WriteByte(',')
			}
			first = false
			quoted, _ := json.Marshal(fn(key.String()))
			sb.Write(quoted)
			sb.WriteByte(':')
			writeTransformed(sb, value, fn)
			return true
		})
		sb.WriteByte('}')
	case r.IsArray():
		sb.WriteByte('[')
		for i, value := range r.Array() {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeTransformed(sb, value, fn)
		}
		sb.WriteByte(']')
	default:
		sb.WriteString(r.Raw)
	}
}
