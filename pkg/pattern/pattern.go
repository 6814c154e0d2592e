// Package pattern implements the ${key} template strings used by hook path
// patterns. A template is a sequence of literal text and ${key} fields; "$$"
// escapes a literal "$", and any other "$" not followed by "{...}" is kept
// intact. Format renders a template against a set of bindings, and
// ReverseMatch recovers bindings from an already-rendered string, which is how
// the hook engine identifies stale symlinks during a sync sweep.
package pattern

import (
	"regexp"
	"strings"
)

// Segment is one parsed piece of a template: either literal text or a field
// reference.
type Segment struct {
	Literal string
	Field   string
	IsField bool
}

// Parse splits template into literal and field segments.
func Parse(template string) []Segment {
	var segments []Segment
	var literal strings.Builder
	rest := template
	for rest != "" {
		dollar := strings.IndexByte(rest, '$')
		if dollar < 0 {
			literal.WriteString(rest)
			break
		}
		literal.WriteString(rest[:dollar])
		rest = rest[dollar:]
		switch {
		case strings.HasPrefix(rest, "$$"):
			literal.WriteByte('$')
			rest = rest[2:]
		case strings.HasPrefix(rest, "${"):
			end := strings.IndexByte(rest, '}')
			if end < 0 {
				// Unterminated field; keep the text as-is.
				literal.WriteString(rest)
				rest = ""
				break
			}
			if literal.Len() > 0 {
				segments = append(segments, Segment{Literal: literal.String()})
				literal.Reset()
			}
			segments = append(segments, Segment{Field: rest[2:end], IsField: true})
			rest = rest[end+1:]
		default:
			literal.WriteByte('$')
			rest = rest[1:]
		}
	}
	if literal.Len() > 0 {
		segments = append(segments, Segment{Literal: literal.String()})
	}
	return segments
}

// Format renders template using bindings. Unbound fields, and fields bound to
// the empty string, expand to nothing.
func Format(template string, bindings map[string]string) string {
	var out strings.Builder
	for _, seg := range Parse(template) {
		if seg.IsField {
			out.WriteString(bindings[seg.Field])
		} else {
			out.WriteString(seg.Literal)
		}
	}
	return out.String()
}

// Fields returns the field names referenced by template, in order of first
// appearance.
func Fields(template string) []string {
	var fields []string
	seen := make(map[string]bool)
	for _, seg := range Parse(template) {
		if seg.IsField && !seen[seg.Field] {
			seen[seg.Field] = true
			fields = append(fields, seg.Field)
		}
	}
	return fields
}

// ReverseMatch checks whether s is a possible expansion of template. Fields
// present in fixed must match those values exactly; every other field binds
// greedily to the longest possible string. On a match it returns the bindings
// recovered for the unfixed fields (possibly empty); otherwise ok is false.
func ReverseMatch(s, template string, fixed map[string]string) (bindings map[string]string, ok bool) {
	var expr strings.Builder
	var names []string
	expr.WriteString("^")
	for _, seg := range Parse(template) {
		if !seg.IsField {
			expr.WriteString(regexp.QuoteMeta(seg.Literal))
			continue
		}
		if value, bound := fixed[seg.Field]; bound {
			expr.WriteString(regexp.QuoteMeta(value))
		} else {
			expr.WriteString("(.*)")
			names = append(names, seg.Field)
		}
	}
	expr.WriteString("$")
	re, err := regexp.Compile(expr.String())
	if err != nil {
		return nil, false
	}
	match := re.FindStringSubmatch(s)
	if match == nil {
		return nil, false
	}
	bindings = make(map[string]string, len(names))
	for i, name := range names {
		bindings[name] = match[i+1]
	}
	return bindings, true
}
