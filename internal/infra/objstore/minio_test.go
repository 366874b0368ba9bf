package objstore

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	fail    bool
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	if f.fail {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`)
		return
	}
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.objects[r.URL.Path] = string(body)
	f.mu.Unlock()
	w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	w.WriteHeader(http.StatusOK)
}

func newTestClient(t *testing.T, s3 *fakeS3) *Client {
	t.Helper()
	srv := httptest.NewServer(s3)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "access",
		SecretKey: "secret",
		Region:    "us-east-1",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func TestPut(t *testing.T) {
	s3 := &fakeS3{objects: map[string]string{}}
	c := newTestClient(t, s3)

	file := filepath.Join(t.TempDir(), "output.log")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0o644))

	locator, err := c.Put(context.Background(), file, "release-logs", "us-west-2/train_small/output.log")
	require.NoError(t, err)
	assert.Equal(t, "s3://release-logs/us-west-2/train_small/output.log", locator)
	require.Contains(t, s3.objects, "/release-logs/us-west-2/train_small/output.log")
	assert.Contains(t, s3.objects["/release-logs/us-west-2/train_small/output.log"], "hello")
}

func TestPut_Errors(t *testing.T) {
	c := newTestClient(t, &fakeS3{objects: map[string]string{}, fail: true})

	file := filepath.Join(t.TempDir(), "output.log")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0o644))
	_, err := c.Put(context.Background(), file, "bucket", "key")
	assert.Error(t, err)

	_, err = c.Put(context.Background(), filepath.Join(t.TempDir(), "missing"), "bucket", "key")
	assert.Error(t, err)
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := NewClient(Config{Endpoint: "localhost:9000"}, logger)
	assert.Error(t, err)
	_, err = NewClient(Config{AccessKey: "a", SecretKey: "b"}, logger)
	assert.Error(t, err)
}
