package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_WriteURLDeletePrefix(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewLocalStorage(LocalConfig{BasePath: dir, URLPrefix: "/files/"})
	require.NoError(t, err)

	key := "attachments/conv-1/a.txt"
	require.NoError(t, s.Write(ctx, key, strings.NewReader("hello"), 5, "text/plain"))

	data, err := os.ReadFile(filepath.Join(dir, key))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	url, err := s.GetURL(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "/files/attachments/conv-1/a.txt", url)

	require.NoError(t, s.DeletePrefix(ctx, "attachments/conv-1/"))
	_, err = s.GetURL(ctx, key, time.Minute)
	assert.Error(t, err)

	assert.NoError(t, s.Delete(ctx, key), "deleting a missing key is not an error")
}

func TestLocalStorage_KeysStayInsideBase(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewLocalStorage(LocalConfig{BasePath: filepath.Join(dir, "base")})
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "../../escape.txt", strings.NewReader("x"), 1, ""))
	_, err = os.Stat(filepath.Join(dir, "escape.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(s.BasePath(), "escape.txt"))
	assert.NoError(t, err)

	assert.Error(t, s.DeletePrefix(ctx, ".."), "deleting the root is refused")
}
