package specsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/animus-labs/flowsync/internal/storage/objectstore"
)

// SpecSource is the external store of workflow documents.
type SpecSource interface {
	ListAllSpecs(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, location string) ([]byte, error)
}

const maxSpecBytes = 1 << 20

// ObjectStoreSource reads documents from one bucket prefix.
type ObjectStoreSource struct {
	store  objectstore.Store
	bucket string
	prefix string
}

func NewObjectStoreSource(store objectstore.Store, bucket, prefix string) (*ObjectStoreSource, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &ObjectStoreSource{store: store, bucket: bucket, prefix: strings.TrimLeft(strings.TrimSpace(prefix), "/")}, nil
}

// ListAllSpecs returns the keys of every .yaml or .yml object, in key order.
func (s *ObjectStoreSource) ListAllSpecs(ctx context.Context) ([]string, error) {
	objects, err := s.store.List(ctx, s.bucket, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", s.bucket, s.prefix, err)
	}
	out := make([]string, 0, len(objects))
	for _, obj := range objects {
		if isSpecKey(obj.Key) {
			out = append(out, obj.Key)
		}
	}
	return out, nil
}

func (s *ObjectStoreSource) Fetch(ctx context.Context, location string) ([]byte, error) {
	body, info, err := s.store.Get(ctx, s.bucket, location)
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", s.bucket, location, err)
	}
	defer body.Close()
	if info.Size > maxSpecBytes {
		return nil, fmt.Errorf("object %s is %d bytes, limit is %d", location, info.Size, maxSpecBytes)
	}
	content, err := io.ReadAll(io.LimitReader(body, maxSpecBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", s.bucket, location, err)
	}
	if len(content) > maxSpecBytes {
		return nil, fmt.Errorf("object %s exceeds %d bytes", location, maxSpecBytes)
	}
	return content, nil
}

func isSpecKey(key string) bool {
	if strings.HasSuffix(key, "/") {
		return false
	}
	switch strings.ToLower(path.Ext(key)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
