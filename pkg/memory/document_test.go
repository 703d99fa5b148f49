package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_Identity(t *testing.T) {
	tests := []struct {
		name   string
		doc    Document
		want   string
		wantOK bool
	}{
		{"id wins", Document{"id": "doc-1", "memory_key": "k"}, "doc-1", true},
		{"falls back to key", Document{"memory_key": "k"}, "k", true},
		{"numeric id", Document{"id": 42}, "42", true},
		{"empty id falls back", Document{"id": "", "memory_key": "k"}, "k", true},
		{"none", Document{"content": "x"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.doc.Identity()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDocument_Float(t *testing.T) {
	doc := Document{"f": 0.5, "i": 3, "s": "nope"}

	f, ok := doc.Float("f")
	assert.True(t, ok)
	assert.Equal(t, 0.5, f)

	f, ok = doc.Float("i")
	assert.True(t, ok)
	assert.Equal(t, 3.0, f)

	_, ok = doc.Float("s")
	assert.False(t, ok)
	_, ok = doc.Float("missing")
	assert.False(t, ok)
}

func TestDocument_CloneIsDeep(t *testing.T) {
	orig := Document{
		"meta": map[string]any{"tags": []any{"a", "b"}},
		"list": []string{"x"},
	}
	clone := orig.Clone()

	clone["meta"].(map[string]any)["tags"].([]any)[0] = "changed"
	clone["list"].([]string)[0] = "changed"

	assert.Equal(t, "a", orig["meta"].(map[string]any)["tags"].([]any)[0])
	assert.Equal(t, "x", orig["list"].([]string)[0])
	assert.Nil(t, Document(nil).Clone())
}

func TestDocument_Merge(t *testing.T) {
	base := Document{"a": 1, "b": 2}
	merged := base.Merge(Document{"b": 3, "c": 4})

	assert.Equal(t, Document{"a": 1, "b": 3, "c": 4}, merged)
	assert.Equal(t, Document{"a": 1, "b": 2}, base)
	assert.Equal(t, Document{"x": 1}, Document(nil).Merge(Document{"x": 1}))
}

func TestDocument_MarshalRoundTrip(t *testing.T) {
	data, err := Document{"content": "hi", "n": 1}.Marshal()
	require.NoError(t, err)

	doc, err := UnmarshalDocument(data)
	require.NoError(t, err)
	assert.Equal(t, "hi", doc["content"])
	assert.Equal(t, 1.0, doc["n"])

	_, err = UnmarshalDocument([]byte("{broken"))
	assert.Error(t, err)
}

func TestMatch(t *testing.T) {
	assert.True(t, Match("Hello World", OpContains, "world"))
	assert.False(t, Match("Hello", OpEquals, "hello"))
	assert.True(t, Match(true, OpEquals, "true"))
	assert.False(t, Match(nil, OpContains, ""))
	assert.True(t, ValidOperator(OpEquals))
	assert.False(t, ValidOperator("~"))
}
