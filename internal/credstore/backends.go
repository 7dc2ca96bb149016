package credstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"shorts-relay/internal/s3"
)

// FileBackend treats keys as filesystem paths.
type FileBackend struct{}

func (FileBackend) Read(ctx context.Context, key string) ([]byte, error) {
	return os.ReadFile(key)
}

// Write creates parent directories and replaces the file via temp file + rename.
func (FileBackend) Write(ctx context.Context, key string, data []byte) error {
	dir := filepath.Dir(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(key)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, key); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// S3Backend stores each key under prefix using the key's base name, so local-style
// paths such as "secrets/token.json" map to "<prefix>token.json".
type S3Backend struct {
	Client s3.Client
	Prefix string
}

func (b S3Backend) objectKey(key string) string {
	return b.Prefix + filepath.Base(strings.TrimSpace(key))
}

func (b S3Backend) Read(ctx context.Context, key string) ([]byte, error) {
	data, _, err := b.Client.GetBytes(ctx, b.objectKey(key))
	return data, err
}

func (b S3Backend) Write(ctx context.Context, key string, data []byte) error {
	return b.Client.PutBytes(ctx, b.objectKey(key), data, "application/json")
}
