// Package deb822 parses the control-file-like records used for hook and
// framework definitions: a single paragraph of "Key: value" lines. Only the
// subset these definitions need is supported; there are no multi-line
// continuation values and only the first paragraph of a file is read.
package deb822

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strings"
)

var fieldRe = regexp.MustCompile(`^([^:\s]+)\s*:\s*(\S.*?)\s*$`)

// Paragraph is one parsed record. Keys are canonicalized to lower case;
// lookups through Get are case-insensitive.
type Paragraph map[string]string

// Parse reads the first paragraph from r. Comment lines are skipped and a
// blank line terminates the paragraph; lines that do not look like fields are
// ignored, matching the tolerant readers this format is traditionally given.
func Parse(r io.Reader) (Paragraph, error) {
	para := make(Paragraph)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		match := fieldRe.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		para[strings.ToLower(match[1])] = match[2]
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return para, nil
}

// ParseFile reads the first paragraph of the file at path.
func ParseFile(path string) (Paragraph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

// Get returns the value for key, case-insensitively. The second return value
// reports whether the field was present.
func (p Paragraph) Get(key string) (string, bool) {
	value, ok := p[strings.ToLower(key)]
	return value, ok
}

// GetDefault returns the value for key, or def when the field is absent.
func (p Paragraph) GetDefault(key, def string) string {
	if value, ok := p.Get(key); ok {
		return value
	}
	return def
}

// GetBool interprets the field as a deb822 boolean: "yes" is true, anything
// else (including absence) is false.
func (p Paragraph) GetBool(key string) bool {
	return p.GetDefault(key, "no") == "yes"
}
