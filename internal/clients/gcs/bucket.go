// Package gcs wraps the object store operations the publication protocols
// need: prefix deletes, prefix copies with metadata substitution, and
// directory-marker writes. Buckets are owned per product, so every call
// names its bucket.
package gcs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/envutil"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/logger"
)

// CopyOptions is the metadata substituted onto every copied object. The
// source object's content type is always preserved.
type CopyOptions struct {
	// CacheControl replaces the source cache-control header. Published
	// edition content gets a long-lived value because the CDN purge is
	// keyed, not TTL-driven.
	CacheControl string
	// SurrogateKey is stamped into object metadata, replacing the source
	// build's own key, so a purge hits exactly this edition.
	SurrogateKey string
}

type ObjectStore interface {
	// DeletePrefix removes every object under prefix, plus the bare
	// directory-marker object at the prefix root. Missing objects are
	// not an error; the operation is idempotent.
	DeletePrefix(ctx context.Context, bucket, prefix string) error
	// CopyPrefix copies every object under srcPrefix to destPrefix,
	// substituting metadata per opts.
	CopyPrefix(ctx context.Context, bucket, srcPrefix, destPrefix string, opts CopyOptions) error
	// WriteDirectoryMarker writes the bare-path redirect object at the
	// destination root so the CDN can serve directory indexes.
	WriteDirectoryMarker(ctx context.Context, bucket, prefix string, opts CopyOptions) error
}

type objectStore struct {
	log     *logger.Logger
	client  *storage.Client
	maxConc int
}

func New(log *logger.Logger) (ObjectStore, error) {
	ctx := context.Background()
	opts := ClientOptionsFromEnv()
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	maxConc := envutil.Int("GCS_MAX_CONCURRENCY", 16)
	if maxConc < 1 {
		maxConc = 1
	}
	return &objectStore{
		log:     log.With("client", "ObjectStore"),
		client:  client,
		maxConc: maxConc,
	}, nil
}

// normalizePrefix guarantees a trailing slash so "pipelines/v/v1" never
// matches "pipelines/v/v10".
func normalizePrefix(prefix string) string {
	p := strings.Trim(strings.TrimSpace(prefix), "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

func (s *objectStore) listKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	it := s.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var out []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, err)
		}
		out = append(out, attrs.Name)
	}
	return out, nil
}

func (s *objectStore) DeletePrefix(ctx context.Context, bucket, prefix string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	norm := normalizePrefix(prefix)
	if norm == "" {
		return fmt.Errorf("refusing to delete an empty prefix in bucket %q", bucket)
	}
	keys, err := s.listKeys(ctx, bucket, norm)
	if err != nil {
		return err
	}
	// The directory marker sits at the bare prefix key, which a
	// trailing-slash listing never matches.
	keys = append(keys, strings.TrimSuffix(norm, "/"))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConc)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			err := s.client.Bucket(bucket).Object(key).Delete(gctx)
			if err != nil && err != storage.ErrObjectNotExist {
				return fmt.Errorf("delete %s/%s: %w", bucket, key, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.log.Debug("deleted prefix", "bucket", bucket, "prefix", norm, "objects", len(keys))
	return nil
}

func (s *objectStore) CopyPrefix(ctx context.Context, bucket, srcPrefix, destPrefix string, opts CopyOptions) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	src := normalizePrefix(srcPrefix)
	dest := normalizePrefix(destPrefix)
	if src == "" || dest == "" {
		return fmt.Errorf("copy requires non-empty prefixes (src=%q dest=%q)", srcPrefix, destPrefix)
	}
	if src == dest {
		return fmt.Errorf("copy source and destination are the same prefix %q", src)
	}

	it := s.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: src})
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConc)

	copied := 0
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("list %s/%s: %w", bucket, src, err)
		}
		srcKey := attrs.Name
		contentType := attrs.ContentType
		destKey := dest + strings.TrimPrefix(srcKey, src)
		copied++
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			copier := s.client.Bucket(bucket).Object(destKey).
				CopierFrom(s.client.Bucket(bucket).Object(srcKey))
			// Setting any attribute replaces them all, so the source
			// content type is carried over explicitly.
			copier.ContentType = contentType
			copier.CacheControl = opts.CacheControl
			copier.Metadata = objectMetadata(opts)
			if _, err := copier.Run(gctx); err != nil {
				return fmt.Errorf("copy %s -> %s: %w", srcKey, destKey, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.log.Debug("copied prefix",
		"bucket", bucket,
		"src", src,
		"dest", dest,
		"objects", copied,
	)
	return nil
}

func (s *objectStore) WriteDirectoryMarker(ctx context.Context, bucket, prefix string, opts CopyOptions) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	key := strings.Trim(strings.TrimSpace(prefix), "/")
	if key == "" {
		return fmt.Errorf("directory marker requires a prefix")
	}
	w := s.client.Bucket(bucket).Object(key).NewWriter(ctx)
	w.ContentType = "text/plain"
	w.CacheControl = opts.CacheControl
	meta := objectMetadata(opts)
	meta["dir-redirect"] = "true"
	w.Metadata = meta
	if err := w.Close(); err != nil {
		return fmt.Errorf("write directory marker %s/%s: %w", bucket, key, err)
	}
	return nil
}

func objectMetadata(opts CopyOptions) map[string]string {
	meta := map[string]string{}
	if opts.SurrogateKey != "" {
		meta["surrogate-key"] = opts.SurrogateKey
	}
	return meta
}
