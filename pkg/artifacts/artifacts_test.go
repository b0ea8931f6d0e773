package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSink(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalSink(filepath.Join(dir, "reports"))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "STD-0001.pdf", "application/pdf", []byte("%PDF-1.4")))
	require.NoError(t, s.Put(ctx, "STD-0001.pdf", "application/pdf", []byte("%PDF-1.7")))

	got, err := os.ReadFile(filepath.Join(dir, "reports", "STD-0001.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(got))

	entries, err := os.ReadDir(filepath.Join(dir, "reports"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must be cleaned up")
}

func TestLocalSinkStaysInsideDir(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalSink(dir)
	require.NoError(t, err)

	require.NoError(t, s.Put(context.Background(), "../../escape.html", "text/html", []byte("x")))
	_, err = os.Stat(filepath.Join(dir, "escape.html"))
	assert.NoError(t, err)

	assert.Error(t, s.Put(context.Background(), "/", "text/html", nil))
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), "none", "", "", "")
	require.NoError(t, err)
	assert.IsType(t, Nop{}, s)

	s, err = Open(context.Background(), "local", t.TempDir(), "", "")
	require.NoError(t, err)
	assert.IsType(t, &LocalSink{}, s)

	_, err = Open(context.Background(), "s3", "", "", "")
	assert.Error(t, err)
}
