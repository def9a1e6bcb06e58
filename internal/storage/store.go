// Package storage is the durable file and blob store used for downloaded
// media and small per-stage strings.
//
// A Store lays objects out by stage, day bucket and a name derived from the
// source URL:
//
//	<stage>/<YYYY-MM-DD>/<unix-seconds>-<url-hash>/media.mp3
//	<stage>/<YYYY-MM-DD>/<unix-seconds>-<url-hash>/manifest.json
//	_strings/<stage>/<name>
//
// Keys therefore sort chronologically within a stage, which lets retention
// stop listing early. The bytes live in a Backend: the local filesystem or an
// S3 compatible object store.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// BucketLayout is the time-bucket format of the second key segment.
const BucketLayout = "2006-01-02"

// Backend stores opaque objects by key.
type Backend interface {
	// Validate checks the location exists and is writable.
	Validate(ctx context.Context) error
	// PutFile copies a local file to key and returns its size.
	PutFile(ctx context.Context, key, localPath, contentType string) (int64, error)
	Put(ctx context.Context, key string, data []byte) error
	// Get returns ErrNotFound when key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	// CleanBefore removes objects under prefix whose bucket segment sorts
	// before cutoff and returns how many were removed.
	CleanBefore(ctx context.Context, prefix, cutoff string) (int, error)
	// BaseURL is the default public location of stored objects.
	BaseURL() string
	// String describes the backend without credentials.
	String() string
}

// ErrNotFound is returned when an object doesn't exist.
type ErrNotFound struct {
	Key string
}

func (e ErrNotFound) Error() string {
	return "object not found: " + e.Key
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}

// Bucket returns the time bucket for t.
func Bucket(t time.Time) string {
	return t.UTC().Format(BucketLayout)
}

// Name derives the per-download directory name from the item creation time
// (to the second) and the source URL.
func Name(created time.Time, url string) string {
	sum := sha256.Sum256([]byte(url))
	return fmt.Sprintf("%d-%s", created.Unix(), hex.EncodeToString(sum[:])[:16])
}

func joinKey(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}
