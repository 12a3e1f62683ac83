package notifications

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/pocketd/internal/store"
)

func newFileStore(t *testing.T) *store.FileStore {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return fs
}

func TestFilter_AddRemoveSet(t *testing.T) {
	fs := newFileStore(t)
	f := NewFilter(fs, nil)

	require.NoError(t, f.Add("com.whatsapp"))
	require.NoError(t, f.Add("com.google.android.gm"))
	assert.True(t, f.IsAllowed("com.whatsapp"))
	assert.False(t, f.IsAllowed("com.other.app"))
	assert.Equal(t, []string{"com.google.android.gm", "com.whatsapp"}, f.List())

	require.NoError(t, f.Remove("com.whatsapp"))
	require.NoError(t, f.Remove("never.added"))
	assert.False(t, f.IsAllowed("com.whatsapp"))

	require.NoError(t, f.Set([]string{"a", " b ", "", "a"}))
	assert.Equal(t, []string{"a", "b"}, f.List())

	assert.Error(t, f.Add("  "))
}

func TestFilter_Persists(t *testing.T) {
	fs := newFileStore(t)
	require.NoError(t, NewFilter(fs, nil).Set([]string{"com.a", "com.b"}))

	reloaded := NewFilter(fs, nil)
	assert.Equal(t, []string{"com.a", "com.b"}, reloaded.List())
}

func TestFilter_CorruptDocumentStartsEmpty(t *testing.T) {
	fs := newFileStore(t)
	require.NoError(t, os.WriteFile(fs.PathFor(store.DocNotificationFilter), []byte("]["), 0644))

	f := NewFilter(fs, nil)
	assert.Empty(t, f.List())
}

func TestFilter_WatchReloadsOnExternalEdit(t *testing.T) {
	fs := newFileStore(t)
	f := NewFilter(fs, nil)
	require.NoError(t, f.Add("com.a"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.Watch(ctx, fs.PathFor(store.DocNotificationFilter)))

	path := fs.PathFor(store.DocNotificationFilter)
	require.NoError(t, os.WriteFile(path, []byte(`{"packages":["com.edited"]}`), 0644))

	assert.Eventually(t, func() bool { return f.IsAllowed("com.edited") }, 3*time.Second, 20*time.Millisecond)
	assert.False(t, f.IsAllowed("com.a"))
}
