// internal/infra/provider/files.go
package provider

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
)

const sessionFilesPath = "/api/v2/session_files"

// Push uploads localDir as a gzipped tarball. The provider unpacks it into the
// session's working directory.
func (c *Client) Push(ctx context.Context, sessionName, localDir string) error {
	archive, err := tarDir(localDir)
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", localDir, err)
	}

	body, err := c.do(ctx, request{
		method:      http.MethodPut,
		path:        sessionFilesPath,
		query:       url.Values{"session_name": {sessionName}},
		body:        archive,
		contentType: "application/gzip",
	})
	if err != nil {
		return fmt.Errorf("failed to push %s to %s: %w", localDir, sessionName, err)
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

// Pull downloads remotePath of the session into localPath.
func (c *Client) Pull(ctx context.Context, sessionName, remotePath, localPath string) error {
	body, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   sessionFilesPath,
		query:  url.Values{"session_name": {sessionName}, "path": {remotePath}},
	})
	if err != nil {
		return fmt.Errorf("failed to pull %s from %s: %w", remotePath, sessionName, err)
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", localPath, err)
	}
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", localPath, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", localPath, err)
	}
	return f.Close()
}

func tarDir(dir string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil || rel == "." {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
