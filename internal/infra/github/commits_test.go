package github

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestCommit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/ray-project/ray/branches/master", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"name":"master","commit":{"sha":"8f2b1c"}}`))
	}))
	defer srv.Close()

	sha, err := NewClient(srv.URL, "ray-project/ray", "secret").LatestCommit(context.Background(), "master")
	require.NoError(t, err)
	assert.Equal(t, "8f2b1c", sha)
}

func TestLatestCommit_Errors(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"not found": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"message":"Branch not found"}`, http.StatusNotFound)
		},
		"bad json": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{`))
		},
		"no sha": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"commit":{}}`))
		},
	}
	for name, handler := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()

			_, err := NewClient(srv.URL, "ray-project/ray", "").LatestCommit(context.Background(), "master")
			assert.Error(t, err)
		})
	}
}
