// Package storage uploads listing images to object storage and resolves
// their public URLs.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/zulandar/peerly/internal/config"
)

// MaxObjectSize caps a single upload.
const MaxObjectSize = 10 << 20

// Store uploads objects by path.
type Store interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) (string, error)
	PublicURL(key string) string
}

// ObjectKey returns "<owner>/<random>.<ext>" for an upload named filename.
func ObjectKey(owner, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		ext = ".bin"
	}
	return owner + "/" + uuid.NewString() + ext
}

func readLimited(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, MaxObjectSize+1))
	if err != nil {
		return nil, fmt.Errorf("storage: read body: %w", err)
	}
	if len(data) > MaxObjectSize {
		return nil, fmt.Errorf("storage: object exceeds %d bytes", MaxObjectSize)
	}
	return data, nil
}

// S3Store writes to an S3-compatible bucket.
type S3Store struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

// NewS3Store builds a client from cfg. Static credentials are used when
// both keys are set, otherwise the default AWS chain applies.
func NewS3Store(ctx context.Context, cfg config.StorageConfig) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage: bucket is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

// Put uploads body under key and returns its public URL.
func (s *S3Store) Put(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	data, err := readLimited(body)
	if err != nil {
		return "", err
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("storage: put %s: %w", key, err)
	}
	return s.PublicURL(key), nil
}

// PublicURL returns the URL at which key is served.
func (s *S3Store) PublicURL(key string) string {
	return s.publicURL + "/" + key
}

// MemStore keeps objects in memory. Used in development without a bucket
// and in tests.
type MemStore struct {
	BaseURL string

	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

// NewMemStore returns an empty MemStore serving under baseURL.
func NewMemStore(baseURL string) *MemStore {
	return &MemStore{
		BaseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (m *MemStore) Put(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := readLimited(body)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.objects[key] = data
	m.types[key] = contentType
	m.mu.Unlock()
	return m.PublicURL(key), nil
}

func (m *MemStore) PublicURL(key string) string {
	return m.BaseURL + "/" + key
}

// Get returns a stored object and its content type.
func (m *MemStore) Get(key string) ([]byte, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return data, m.types[key], ok
}

// Len returns the number of stored objects.
func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
