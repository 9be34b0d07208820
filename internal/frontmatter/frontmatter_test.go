package frontmatter

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type header struct {
	ID    string     `yaml:"id"`
	Title string     `yaml:"title,omitempty"`
	Tags  StringList `yaml:"tags,omitempty"`
	Extra map[string]any `yaml:",inline"`
}

// TestRoundTrip verifies Encode output decodes back to an equal header and
// body.
func TestRoundTrip(t *testing.T) {
	in := header{
		ID:    "mem-1",
		Title: "Deploy notes",
		Tags:  StringList{"ops", "deploys"},
	}
	body := "First line.\n\nSecond paragraph with `code`."

	raw, err := Encode(in, body)
	require.NoError(t, err)

	var out header
	gotBody, err := Decode(raw, &out)
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Title, out.Title)
	assert.Equal(t, in.Tags, out.Tags)
	assert.Equal(t, body, gotBody)
}

// TestEncodeStable verifies encoding twice yields identical bytes.
func TestEncodeStable(t *testing.T) {
	in := header{ID: "x", Tags: StringList{"a", "b"}}

	first, err := Encode(in, "body")
	require.NoError(t, err)
	second, err := Encode(in, "body")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

// TestStringListFlowStyle verifies lists render as quoted flow sequences,
// the format the files have always used.
func TestStringListFlowStyle(t *testing.T) {
	raw, err := Encode(header{ID: "x", Tags: StringList{"api", "retry logic"}}, "")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `tags: ["api", "retry logic"]`)
}

// TestUnknownKeysPreserved verifies keys the struct does not model survive
// a decode/encode cycle through the inline map.
func TestUnknownKeysPreserved(t *testing.T) {
	raw := []byte("---\nid: m1\ncustom_field: kept\nnested:\n  a: 1\n---\n\nbody\n")

	var h header
	body, err := Decode(raw, &h)
	require.NoError(t, err)
	assert.Equal(t, "body", body)
	assert.Equal(t, "kept", h.Extra["custom_field"])

	out, err := Encode(h, body)
	require.NoError(t, err)
	assert.Contains(t, string(out), "custom_field: kept")
}

// TestDecodeMissingHeader verifies a headerless document returns the whole
// text as body together with ErrNoHeader.
func TestDecodeMissingHeader(t *testing.T) {
	var h header
	body, err := Decode([]byte("plain text\nno delimiters\n"), &h)
	assert.True(t, errors.Is(err, ErrNoHeader))
	assert.Equal(t, "plain text\nno delimiters", body)
}

// TestDecodeMalformed covers unterminated blocks and broken YAML.
func TestDecodeMalformed(t *testing.T) {
	var h header

	_, err := Decode([]byte("---\nid: x\nno closing delimiter\n"), &h)
	assert.True(t, errors.Is(err, ErrMalformed))

	_, err = Decode([]byte("---\nid: [unclosed\n---\nbody\n"), &h)
	assert.True(t, errors.Is(err, ErrMalformed))
}

// TestSplitVariants covers CRLF input, the "..." closer, and a BOM prefix.
func TestSplitVariants(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantHeader string
		wantBody   string
	}{
		{"crlf", "---\r\nid: x\r\n---\r\n\r\nbody\r\n", "id: x", "body"},
		{"dots closer", "---\nid: x\n...\nbody\n", "id: x", "body"},
		{"bom", "\ufeff---\nid: x\n---\nbody\n", "id: x", "body"},
		{"trailing spaces on delimiter", "---  \nid: x\n---  \nbody\n", "id: x", "body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			head, body, err := Split([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.wantHeader, strings.TrimSpace(string(head)))
			assert.Equal(t, tt.wantBody, strings.TrimSpace(body))
		})
	}
}

// TestSplitDocs verifies multi-document files split on header boundaries
// while horizontal rules inside bodies stay put.
func TestSplitDocs(t *testing.T) {
	doc1, err := Encode(header{ID: "t1"}, "first body\n\n---\n\nthe rule above is part of this body")
	require.NoError(t, err)
	doc2, err := Encode(header{ID: "t2"}, "second body")
	require.NoError(t, err)
	doc3, err := Encode(header{ID: "t3"}, "")
	require.NoError(t, err)

	joined := JoinDocs([][]byte{doc1, doc2, doc3})
	docs := SplitDocs(joined)
	require.Len(t, docs, 3)

	var h header
	body, err := Decode(docs[0], &h)
	require.NoError(t, err)
	assert.Equal(t, "t1", h.ID)
	assert.Contains(t, body, "part of this body")

	body, err = Decode(docs[1], &h)
	require.NoError(t, err)
	assert.Equal(t, "t2", h.ID)
	assert.Equal(t, "second body", body)

	_, err = Decode(docs[2], &h)
	require.NoError(t, err)
	assert.Equal(t, "t3", h.ID)
}

// TestSplitDocsSingle verifies a one-document file passes through whole.
func TestSplitDocsSingle(t *testing.T) {
	doc, err := Encode(header{ID: "only"}, "body")
	require.NoError(t, err)

	docs := SplitDocs(doc)
	require.Len(t, docs, 1)
}
