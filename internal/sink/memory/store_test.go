package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutDocumentAndGet(t *testing.T) {
	t.Parallel()

	store := New()
	uri, err := store.PutDocument(context.Background(), "berlin_restaurants.json", "application/json", []byte(`[{"name":"Luigi"}]`))
	require.NoError(t, err)
	require.Equal(t, "memory://berlin_restaurants.json", uri)

	data, ok := store.Get("berlin_restaurants.json")
	require.True(t, ok)
	require.JSONEq(t, `[{"name":"Luigi"}]`, string(data))
	require.Equal(t, 1, store.Len())
}

func TestGetCopiesData(t *testing.T) {
	t.Parallel()

	store := New()
	_, err := store.PutDocument(context.Background(), "doc", "", []byte("abc"))
	require.NoError(t, err)

	data, ok := store.Get("doc")
	require.True(t, ok)
	data[0] = 'x'

	again, ok := store.Get("doc")
	require.True(t, ok)
	require.Equal(t, "abc", string(again))
}

func TestGetMissing(t *testing.T) {
	t.Parallel()

	_, ok := New().Get("nope")
	require.False(t, ok)
}
