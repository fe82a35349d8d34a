package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownload_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "sub", "image.jpg")

	d := New(NewAdaptiveLimiter(100, 10))
	result := d.Download(context.Background(), srv.URL, dest, 5, 3, 0)

	require.True(t, result.OK)
	assert.Equal(t, 0, result.RetriesUsed)
	require.NotNil(t, result.SizeBytes)
	assert.Equal(t, int64(len("hello world")), *result.SizeBytes)
	require.NotNil(t, result.SHA256)
	assert.NotEmpty(t, *result.SHA256)
	require.NotNil(t, result.ContentType)
	assert.Equal(t, "image/jpeg", *result.ContentType)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestDownload_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "image.jpg")

	d := New(NewAdaptiveLimiter(100, 10))
	d.backoffBase = time.Millisecond
	d.backoffMax = 5 * time.Millisecond

	result := d.Download(context.Background(), srv.URL, dest, 5, 3, 0)

	require.True(t, result.OK)
	assert.Equal(t, 2, result.RetriesUsed)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDownload_ExhaustsRetriesAndFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "image.jpg")

	d := New(NewAdaptiveLimiter(100, 10))
	d.backoffBase = time.Millisecond
	d.backoffMax = 5 * time.Millisecond

	result := d.Download(context.Background(), srv.URL, dest, 5, 2, 0)

	require.False(t, result.OK)
	assert.Equal(t, 2, result.RetriesUsed)
	require.NotNil(t, result.HTTPStatus)
	assert.Equal(t, http.StatusNotFound, *result.HTTPStatus)
	assert.NotEmpty(t, result.Error)

	_, err := os.Stat(dest)
	assert.True(t, os.IsNotExist(err))
}

func TestRetryDelay_ThrottledUsesExponentialBackoffWithJitter(t *testing.T) {
	status := http.StatusTooManyRequests
	base := 500 * time.Millisecond
	max := 8 * time.Second

	for attempt := 1; attempt <= 4; attempt++ {
		delay := retryDelay(attempt, 1.0, &status, base, max)
		assert.Greater(t, delay, time.Duration(0))
		assert.LessOrEqual(t, delay, time.Duration(float64(max)*1.2)+time.Millisecond)
	}
}

func TestRetryDelay_NonThrottledUsesFixedDelay(t *testing.T) {
	delay := retryDelay(3, 2.5, nil, 500*time.Millisecond, 8*time.Second)
	assert.Equal(t, 2500*time.Millisecond, delay)
}

func TestRetryDelay_NonThrottledNoDelayFallsBackToExponential(t *testing.T) {
	base := 500 * time.Millisecond
	max := 8 * time.Second
	delay := retryDelay(1, 0, nil, base, max)
	assert.Equal(t, base, delay)

	delay = retryDelay(5, 0, nil, base, max)
	assert.Equal(t, max, delay)
}

func TestFileSHA256(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))

	sum, err := FileSHA256(path)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)
}
