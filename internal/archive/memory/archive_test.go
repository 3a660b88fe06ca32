package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutAndGet(t *testing.T) {
	t.Parallel()

	a := New()
	ctx := context.Background()

	uri, err := a.Put(ctx, "pages/42", "text/html", []byte("<html></html>"))
	require.NoError(t, err)
	require.Equal(t, "memory://pages/42", uri)

	body, ok := a.Get("pages/42")
	require.True(t, ok)
	require.Equal(t, []byte("<html></html>"), body)

	_, ok = a.Get("pages/43")
	require.False(t, ok)

	_, err = a.Put(ctx, "", "text/html", nil)
	require.Error(t, err)
}

func TestPutCopiesBody(t *testing.T) {
	t.Parallel()

	a := New()
	body := []byte("original")
	_, err := a.Put(context.Background(), "k", "text/plain", body)
	require.NoError(t, err)

	body[0] = 'X'
	stored, ok := a.Get("k")
	require.True(t, ok)
	require.Equal(t, []byte("original"), stored)
}
