// Package blob holds document bytes outside the database. A stored object is
// addressed by a reference string plus a location discriminant recorded at
// upload time; readers dispatch on the discriminant, never on the shape of
// the reference itself.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/codebymv/Itemize-sub008/pkg/domain"
)

// PutResult describes a stored object.
type PutResult struct {
	Ref      string
	Location domain.LocationKind
	SHA256   string
	Size     int64
}

type Store interface {
	Put(ctx context.Context, key string, r io.Reader) (PutResult, error)
	Open(ctx context.Context, loc domain.LocationKind, ref string) (io.ReadCloser, error)
	Remove(ctx context.Context, loc domain.LocationKind, ref string) error
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// LocalStore keeps objects as files under a root directory.
type LocalStore struct {
	Root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &LocalStore{Root: root}, nil
}

func (s *LocalStore) path(key string) string {
	// Keys are generated ids, but flatten anything path-like defensively.
	return filepath.Join(s.Root, filepath.Base(key))
}

func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader) (PutResult, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return PutResult{}, err
	}
	p := s.path(key)
	if err := os.WriteFile(p, b, 0o644); err != nil {
		return PutResult{}, err
	}
	return PutResult{Ref: p, Location: domain.LocationLocal, SHA256: digest(b), Size: int64(len(b))}, nil
}

func (s *LocalStore) Open(ctx context.Context, loc domain.LocationKind, ref string) (io.ReadCloser, error) {
	if loc != domain.LocationLocal {
		return nil, fmt.Errorf("blob: local store cannot open %s reference", loc)
	}
	return os.Open(ref)
}

func (s *LocalStore) Remove(ctx context.Context, loc domain.LocationKind, ref string) error {
	if loc != domain.LocationLocal {
		return fmt.Errorf("blob: local store cannot remove %s reference", loc)
	}
	err := os.Remove(ref)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

var _ Store = (*LocalStore)(nil)

// ParseRemoteRef splits an "s3://bucket/key" reference.
func ParseRemoteRef(ref string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(ref, "s3://")
	if trimmed == ref {
		return "", "", fmt.Errorf("blob: not an s3 reference: %q", ref)
	}
	bucket, key, ok := strings.Cut(trimmed, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("blob: malformed s3 reference: %q", ref)
	}
	return bucket, key, nil
}
