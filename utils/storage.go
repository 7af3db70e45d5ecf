// hearth/utils/storage.go
package utils

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// StorageService receives exported artifacts: audit-log exports and
// database backups.
type StorageService interface {
	Save(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// LocalStorage implements StorageService for local disk.
type LocalStorage struct {
	Dir string
}

func (ls *LocalStorage) Save(_ context.Context, name string, data []byte, _ string) (string, error) {
	if err := os.MkdirAll(ls.Dir, 0755); err != nil {
		return "", err
	}
	fullPath := filepath.Join(ls.Dir, name)
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return "", err
	}
	return fullPath, nil
}

// S3Storage implements StorageService for S3-compatible object storage.
type S3Storage struct {
	Client     *minio.Client
	BucketName string
	Prefix     string
}

func NewS3Storage(endpoint, accessKey, secretKey, bucket, region, prefix string, useSSL bool) (*S3Storage, error) {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")

	var creds *credentials.Credentials
	if accessKey == "" || secretKey == "" {
		// Use IAM role credentials if keys are not provided
		creds = credentials.NewIAM("")
	} else {
		creds = credentials.NewStaticV4(accessKey, secretKey, "")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", bucket)
	}

	prefix = strings.Trim(prefix, "/")

	return &S3Storage{
		Client:     client,
		BucketName: bucket,
		Prefix:     prefix,
	}, nil
}

func (s3 *S3Storage) Save(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	key := name
	if s3.Prefix != "" {
		key = s3.Prefix + "/" + name
	}
	reader := bytes.NewReader(data)
	_, err := s3.Client.PutObject(ctx, s3.BucketName, key, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("s3://%s/%s", s3.BucketName, key), nil
}
