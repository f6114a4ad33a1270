// Package gcs_test contains unit tests for the GCS document store.
package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	storage "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/nvisser/tablehawk/internal/sink/gcs"
)

// newTestClient creates a storage client pointed at a test server.
func newTestClient(t *testing.T, handler http.Handler) (*storage.Client, func()) {
	t.Helper()

	server := httptest.NewServer(handler)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)

	return client, server.Close
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := gcs.New(nil, gcs.Config{Bucket: "crawl-results"})
	require.Error(t, err)

	client, cleanup := newTestClient(t, http.NotFoundHandler())
	defer cleanup()

	_, err = gcs.New(client, gcs.Config{})
	require.Error(t, err)
}

func TestPutDocumentUploads(t *testing.T) {
	objectData := []byte(`[{"name":"Luigi"}]`)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/crawl-results/o")
		assert.Equal(t, "listings/berlin_restaurants.json", r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), string(objectData))

		fmt.Fprintln(w, `{ "name": "listings/berlin_restaurants.json" }`)
	})

	client, cleanup := newTestClient(t, handler)
	defer cleanup()

	store, err := gcs.New(client, gcs.Config{Bucket: "crawl-results", Prefix: "listings/"})
	require.NoError(t, err)

	uri, err := store.PutDocument(context.Background(), "berlin_restaurants.json", "application/json; charset=utf-8", objectData)
	require.NoError(t, err)
	require.Equal(t, "gs://crawl-results/listings/berlin_restaurants.json", uri)
}

func TestPutDocumentRequiresName(t *testing.T) {
	t.Parallel()

	client, cleanup := newTestClient(t, http.NotFoundHandler())
	defer cleanup()

	store, err := gcs.New(client, gcs.Config{Bucket: "crawl-results"})
	require.NoError(t, err)

	_, err = store.PutDocument(context.Background(), "  ", "application/json", nil)
	require.Error(t, err)
}
