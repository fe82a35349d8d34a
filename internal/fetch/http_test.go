package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcher_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Write([]byte("<html><body>hi</body></html>"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher()
	result := f.Fetch(context.Background(), srv.URL, 5)

	require.True(t, result.OK)
	assert.Equal(t, "<html><body>hi</body></html>", result.HTML)
	require.NotNil(t, result.StatusCode)
	assert.Equal(t, http.StatusOK, *result.StatusCode)
	assert.Empty(t, result.Error)
}

func TestHTTPFetcher_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPFetcher()
	result := f.Fetch(context.Background(), srv.URL, 5)

	assert.False(t, result.OK)
	require.NotNil(t, result.StatusCode)
	assert.Equal(t, http.StatusNotFound, *result.StatusCode)
	assert.NotEmpty(t, result.Error)
}

func TestHTTPFetcher_ConnectionError(t *testing.T) {
	f := NewHTTPFetcher()
	result := f.Fetch(context.Background(), "http://127.0.0.1:1", 1)

	assert.False(t, result.OK)
	assert.Nil(t, result.StatusCode)
	assert.NotEmpty(t, result.Error)
}

func TestHTTPFetcher_ContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	f := NewHTTPFetcher()
	result := f.Fetch(context.Background(), srv.URL, 0.01)

	assert.False(t, result.OK)
	assert.NotEmpty(t, result.Error)
}
