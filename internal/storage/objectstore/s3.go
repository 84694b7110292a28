// Package objectstore keeps memory-bank documents in an S3-compatible bucket.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"taskrails/internal/domain"
	"taskrails/internal/storage"
)

// Config addresses the bucket. Prefix is prepended to every object key.
type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// DocumentStore is a storage.DocumentStore backed by MinIO or S3. Documents
// are stored as <prefix>@<name>.md, the same naming as the file layout.
type DocumentStore struct {
	client   *minio.Client
	bucket   string
	prefix   string
	region   string
	initOnce sync.Once
	initErr  error
}

var _ storage.DocumentStore = (*DocumentStore)(nil)

// New creates the client. No request is made until the first operation,
// which also creates the bucket when it does not exist.
func New(cfg Config) (*DocumentStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &DocumentStore{
		client: client,
		bucket: bucket,
		prefix: normalizePrefix(cfg.Prefix),
		region: region,
	}, nil
}

func normalizePrefix(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

func (s *DocumentStore) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

func (s *DocumentStore) key(name string) string {
	return s.prefix + "@" + name + ".md"
}

// nameFromKey reverses key, reporting false for objects that are not documents.
func (s *DocumentStore) nameFromKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, s.prefix)
	if !ok || strings.Contains(rest, "/") || !strings.HasPrefix(rest, "@") || !strings.HasSuffix(rest, ".md") {
		return "", false
	}
	name := strings.TrimSuffix(strings.TrimPrefix(rest, "@"), ".md")
	if storage.ValidateDocumentName(name) != nil {
		return "", false
	}
	return name, true
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}

// PutDocument replaces the document. A single PutObject is atomic for readers.
func (s *DocumentStore) PutDocument(ctx context.Context, name, content string) error {
	if err := storage.ValidateDocumentName(name); err != nil {
		return storage.Wrap("put document", err)
	}
	if err := s.ensureBucket(ctx); err != nil {
		return storage.Wrap("put document", fmt.Errorf("ensure bucket: %w", err))
	}
	body := []byte(content)
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "text/markdown; charset=utf-8",
	})
	return storage.Wrap("put document", err)
}

func (s *DocumentStore) GetDocument(ctx context.Context, name string) (domain.Document, error) {
	if err := storage.ValidateDocumentName(name); err != nil {
		return domain.Document{}, storage.Wrap("get document", err)
	}
	if err := s.ensureBucket(ctx); err != nil {
		return domain.Document{}, storage.Wrap("get document", fmt.Errorf("ensure bucket: %w", err))
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(name), minio.GetObjectOptions{})
	if err != nil {
		return domain.Document{}, storage.Wrap("get document", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return domain.Document{}, storage.Wrap("get document", fmt.Errorf("%s: %w", name, storage.ErrNotFound))
		}
		return domain.Document{}, storage.Wrap("get document", err)
	}
	return domain.Document{Name: name, Content: string(data)}, nil
}

// ListDocuments returns document names sorted alphabetically.
func (s *DocumentStore) ListDocuments(ctx context.Context) ([]string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, storage.Wrap("list documents", fmt.Errorf("ensure bucket: %w", err))
	}
	names := make([]string, 0, 8)
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.prefix}) {
		if obj.Err != nil {
			return nil, storage.Wrap("list documents", obj.Err)
		}
		if name, ok := s.nameFromKey(obj.Key); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *DocumentStore) DeleteDocument(ctx context.Context, name string) error {
	if err := storage.ValidateDocumentName(name); err != nil {
		return storage.Wrap("delete document", err)
	}
	if err := s.ensureBucket(ctx); err != nil {
		return storage.Wrap("delete document", fmt.Errorf("ensure bucket: %w", err))
	}
	key := s.key(name)
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return storage.Wrap("delete document", fmt.Errorf("%s: %w", name, storage.ErrNotFound))
		}
		return storage.Wrap("delete document", err)
	}
	return storage.Wrap("delete document", s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}))
}
