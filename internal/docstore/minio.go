package docstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore keeps the serialized map as one object under a fixed key.
type MinioStore struct {
	store
	client *minio.Client
	bucket string
}

type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func NewMinioStore(ctx context.Context, opts MinioOptions) (*MinioStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket: %w", err)
		}
	}

	s := &MinioStore{client: client, bucket: opts.Bucket}
	s.store.rw = minioBlob{client: client, bucket: opts.Bucket}
	return s, nil
}

func (s *MinioStore) Close() error {
	return nil
}

type minioBlob struct {
	client *minio.Client
	bucket string
}

func (b minioBlob) read(ctx context.Context) ([]byte, bool, error) {
	object, err := b.client.GetObject(ctx, b.bucket, storageKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, false, err
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (b minioBlob) write(ctx context.Context, data []byte) error {
	_, err := b.client.PutObject(ctx, b.bucket, storageKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return err
}
