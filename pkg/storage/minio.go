package storage

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type MinioStore struct {
	cli    *minio.Client
	bucket string
}

func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio: endpoint and bucket are required")
	}
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: %w", err)
	}
	return &MinioStore{cli: cli, bucket: cfg.Bucket}, nil
}

func (m *MinioStore) ensureBucket(ctx context.Context) error {
	exists, err := m.cli.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return m.cli.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{})
	}
	return nil
}

func (m *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := m.ensureBucket(ctx); err != nil {
		return err
	}
	_, err := m.cli.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: "application/octet-stream"})
	return err
}

func (m *MinioStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if _, err := m.cli.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m.cli.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
}

func (m *MinioStore) Delete(ctx context.Context, key string) error {
	return m.cli.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{})
}

func (m *MinioStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range m.cli.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)
	return keys, nil
}
