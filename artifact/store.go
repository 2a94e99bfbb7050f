// Package artifact persists pipeline inputs and outputs and hands out the
// public URLs callers use to fetch them back.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"
)

var ErrNotFound = errors.New("artifact not found")

// BackgroundPrefix holds uploaded backgrounds. Keys below it are catalog
// entries and never expire.
const BackgroundPrefix = "backgrounds"

// Store is addressed by opaque slash separated keys.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, string, error)
	URL(key string) string
}

// Pruner removes artifacts last written before a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}

// Lister enumerates the keys stored below a prefix.
type Lister interface {
	List(ctx context.Context, prefix string) ([]string, error)
}

// Retained reports whether key is exempt from pruning.
func Retained(key string) bool {
	return strings.HasPrefix(key, BackgroundPrefix+"/")
}

func JoinKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return strings.TrimSuffix(prefix, "/") + "/" + name
}

// CleanKey rejects keys that could escape the store root.
func CleanKey(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", fmt.Errorf("empty artifact key")
	}
	cleaned := path.Clean(key)
	if cleaned != key || cleaned == "." || strings.HasPrefix(cleaned, "../") || cleaned == ".." {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}
	return cleaned, nil
}

func contentTypeOf(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func publicURL(base, key string) string {
	return strings.TrimSuffix(base, "/") + "/image/files/" + key
}
