// Package frontmatter parses and emits the markdown document format used for
// memories and tasks: a "---" delimited YAML header followed by a freeform body.
//
// The codec is lossless for known fields and round-trip stable: parsing the
// output of Encode yields an equal header. String lists are emitted in flow
// style with quoted elements; everything else uses plain YAML block style.
package frontmatter

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrNoHeader is returned by Decode when the document has no front-matter
	// block. The body is still returned so callers can synthesize defaults.
	ErrNoHeader = errors.New("no front-matter header")

	// ErrMalformed is returned when a header block exists but cannot be parsed.
	ErrMalformed = errors.New("malformed front-matter")
)

const delimiter = "---"

// yamlKeyRe matches the first line of a YAML mapping, used to tell a new
// document's header apart from a horizontal rule inside a body.
var yamlKeyRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*\s*:`)

// StringList is a []string that serializes as a flow-style YAML sequence of
// double-quoted scalars: tags: ["api", "retry"].
type StringList []string

func (l StringList) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, s := range l {
		node.Content = append(node.Content, &yaml.Node{
			Kind:  yaml.ScalarNode,
			Style: yaml.DoubleQuotedStyle,
			Value: s,
		})
	}
	return node, nil
}

// Split separates a raw document into its header block and body. A missing
// header yields a nil header and the whole document as body. Line endings are
// normalized to LF.
func Split(raw []byte) (header []byte, body string, err error) {
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	text = strings.TrimPrefix(text, "\uFEFF")

	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimRight(lines[0], " ") != delimiter {
		return nil, canonicalBody(text), nil
	}

	for i := 1; i < len(lines); i++ {
		trimmed := strings.TrimRight(lines[i], " ")
		if trimmed == delimiter || trimmed == "..." {
			head := strings.Join(lines[1:i], "\n")
			rest := strings.Join(lines[i+1:], "\n")
			return []byte(head), canonicalBody(rest), nil
		}
	}
	return nil, "", fmt.Errorf("%w: unterminated header block", ErrMalformed)
}

// Decode splits raw and unmarshals the header into out. When no header is
// present the body is returned together with ErrNoHeader.
func Decode(raw []byte, out any) (string, error) {
	header, body, err := Split(raw)
	if err != nil {
		return "", err
	}
	if header == nil {
		return body, ErrNoHeader
	}
	if err := yaml.Unmarshal(header, out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return body, nil
}

// Encode emits the canonical document text: header block, delimiter, one
// blank line, body, trailing newline.
func Encode(header any, body string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(delimiter)
	buf.WriteByte('\n')

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(header); err != nil {
		return nil, fmt.Errorf("encoding header: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding header: %w", err)
	}

	buf.WriteString(delimiter)
	buf.WriteByte('\n')
	body = canonicalBody(body)
	if body != "" {
		buf.WriteByte('\n')
		buf.WriteString(body)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// SplitDocs breaks a multi-document file (task files hold several entities)
// into individual raw documents, each parseable by Decode. A "---" line opens
// a new document only when followed by a YAML mapping key, so horizontal
// rules inside bodies do not split documents.
func SplitDocs(raw []byte) [][]byte {
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	lines := strings.Split(text, "\n")

	var docs [][]byte
	var current []string
	inHeader := false

	flush := func() {
		chunk := strings.TrimSpace(strings.Join(current, "\n"))
		if chunk != "" {
			docs = append(docs, []byte(strings.Join(current, "\n")))
		}
		current = nil
	}

	for i, line := range lines {
		trimmed := strings.TrimRight(line, " ")
		if trimmed == delimiter {
			if inHeader {
				// Closing delimiter of the current header.
				inHeader = false
				current = append(current, line)
				continue
			}
			if startsHeader(lines, i+1) {
				flush()
				inHeader = true
				current = append(current, line)
				continue
			}
		}
		current = append(current, line)
	}
	flush()
	return docs
}

// startsHeader reports whether the lines following a "---" delimiter look
// like a YAML header.
func startsHeader(lines []string, from int) bool {
	for i := from; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		return yamlKeyRe.MatchString(trimmed)
	}
	return false
}

// JoinDocs concatenates encoded documents into a single multi-document file.
func JoinDocs(docs [][]byte) []byte {
	var buf bytes.Buffer
	for i, d := range docs {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(bytes.TrimRight(d, "\n"))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// canonicalBody trims surrounding newlines: Split drops the blank line
// separating header from body, Encode re-adds exactly one.
func canonicalBody(s string) string {
	return strings.Trim(s, "\n")
}
