package blob

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"report.pdf":           "report.pdf",
		"../../etc/passwd":     "passwd",
		`C:\Users\me\notes.md`: "notes.md",
		"my file (1).txt":      "my_file_1_.txt",
		"   ":                  "file",
		"...":                  "file",
	}
	for input, want := range cases {
		assert.Equal(t, want, SanitizeName(input), "input %q", input)
	}
}

func TestSanitizeNameKeepsExtensionWhenTruncating(t *testing.T) {
	name := strings.Repeat("a", 300) + ".csv"
	got := SanitizeName(name)
	assert.Len(t, got, maxNameLength)
	assert.True(t, strings.HasSuffix(got, ".csv"))
}

func TestObjectName(t *testing.T) {
	assert.Equal(t, "usr_1/file_2/a_b.txt", ObjectName("usr_1", "file_2", "a b.txt"))
}

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	require.NoError(t, store.Put(ctx, "u/f/a.txt", strings.NewReader("hello"), 5, "text/plain"))
	obj, err := store.Get(ctx, "u/f/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(obj.Data))
	assert.Equal(t, "text/plain", obj.ContentType)

	require.NoError(t, store.Delete(ctx, "u/f/a.txt"))
	_, err = store.Get(ctx, "u/f/a.txt")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, store.Len())
}
