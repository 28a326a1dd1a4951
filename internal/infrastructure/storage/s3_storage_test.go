package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/erp/arledger/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeS3 records path-style object uploads
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newFakeS3(t *testing.T) (*fakeS3, *httptest.Server) {
	f := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			f.objects[r.URL.Path] = body
			f.types[r.URL.Path] = r.Header.Get("Content-Type")
			w.WriteHeader(http.StatusOK)
		case http.MethodHead:
			if _, ok := f.objects[r.URL.Path]; ok || r.URL.Path == "/reports" {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func testS3Config(endpoint string) *config.StorageConfig {
	return &config.StorageConfig{
		Backend:         config.StorageS3,
		Bucket:          "reports",
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		Prefix:          "/cxc/",
		UsePathStyle:    true,
	}
}

func TestNewS3Store_Validation(t *testing.T) {
	t.Run("nil config returns error", func(t *testing.T) {
		_, err := NewS3Store(nil)
		assert.ErrorContains(t, err, "configuration is required")
	})

	t.Run("missing bucket returns error", func(t *testing.T) {
		_, err := NewS3Store(&config.StorageConfig{AccessKeyID: "k", SecretAccessKey: "s"})
		assert.ErrorContains(t, err, "bucket is required")
	})

	t.Run("half a key pair returns error", func(t *testing.T) {
		_, err := NewS3Store(&config.StorageConfig{Bucket: "b", AccessKeyID: "k"})
		assert.ErrorContains(t, err, "must be set together")
	})

	t.Run("valid config creates store", func(t *testing.T) {
		s, err := NewS3Store(testS3Config("localhost:9000"), WithLogger(zaptest.NewLogger(t)))
		require.NoError(t, err)
		assert.Equal(t, "reports", s.Bucket())
		assert.Equal(t, "cxc", s.prefix)
	})
}

func TestS3Store_Put(t *testing.T) {
	fake, srv := newFakeS3(t)
	s, err := NewS3Store(testS3Config(srv.URL))
	require.NoError(t, err)

	location, err := s.Put(context.Background(), "2024-03-31/kpis.xlsx", []byte("xlsx"), "application/octet-stream")
	require.NoError(t, err)
	assert.Equal(t, "s3://reports/cxc/2024-03-31/kpis.xlsx", location)

	fake.mu.Lock()
	assert.Equal(t, []byte("xlsx"), fake.objects["/reports/cxc/2024-03-31/kpis.xlsx"])
	assert.Equal(t, "application/octet-stream", fake.types["/reports/cxc/2024-03-31/kpis.xlsx"])
	fake.mu.Unlock()

	_, err = s.Put(context.Background(), "", nil, "")
	assert.ErrorContains(t, err, "storage key is required")
}

func TestS3Store_ExistsAndEnsureBucket(t *testing.T) {
	_, srv := newFakeS3(t)
	s, err := NewS3Store(testS3Config(srv.URL))
	require.NoError(t, err)

	require.NoError(t, s.EnsureBucket(context.Background()))

	ok, err := s.Exists(context.Background(), "missing.pdf")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Put(context.Background(), "present.pdf", []byte("%PDF"), "application/pdf")
	require.NoError(t, err)
	ok, err = s.Exists(context.Background(), "present.pdf")
	require.NoError(t, err)
	assert.True(t, ok)
}
