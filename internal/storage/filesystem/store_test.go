package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowmail/backend/internal/storage"
)

func TestStore_PutGetDelete(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	key := "attachments/msg-1/report.pdf"
	require.NoError(t, store.PutObject(ctx, key, "application/pdf", []byte("%PDF-1.4")))

	_, err = os.Stat(filepath.Join(store.basePath, "attachments", "msg-1", "report.pdf"))
	require.NoError(t, err)

	obj, err := store.GetObject(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), obj.Data)
	assert.Equal(t, "application/pdf", obj.ContentType)

	require.NoError(t, store.DeleteObject(ctx, key))
	_, err = store.GetObject(ctx, key)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)

	assert.NoError(t, store.DeleteObject(ctx, key))
	assert.NoError(t, store.Ping(ctx))
}

func TestStore_RejectsTraversalKeys(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"../etc/passwd", "/abs/path", "attachments/../x", "a//b", "a\\b", ""} {
		err := store.PutObject(context.Background(), key, "text/plain", []byte("x"))
		assert.Error(t, err, key)
	}
}
