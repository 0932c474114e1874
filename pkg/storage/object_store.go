package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// presigned attachment links outlive the chat screen but not the session
const attachmentURLExpiry = 7 * 24 * time.Hour

// ObjectStore holds message attachments (image and file payloads). Message
// rows only carry the resulting URL; the store is the sole owner of bytes.
type ObjectStore interface {
	PutAttachment(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	AttachmentURL(ctx context.Context, key string) (string, error)
	DeleteAttachment(ctx context.Context, key string) error
}

// MinioStore implements ObjectStore for MinIO/S3 compatible storage.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

// PutAttachment uploads an attachment object.
func (m *MinioStore) PutAttachment(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put attachment: %w", err)
	}
	return nil
}

// AttachmentURL generates a pre-signed GET URL for the attachment.
func (m *MinioStore) AttachmentURL(ctx context.Context, key string) (string, error) {
	url, err := m.client.PresignedGetObject(ctx, m.bucket, key, attachmentURLExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign attachment: %w", err)
	}
	return url.String(), nil
}

// DeleteAttachment removes an attachment object.
func (m *MinioStore) DeleteAttachment(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	return nil
}

// AttachmentKey namespaces uploaded objects per owner with a unique prefix so
// concurrent uploads of identically named files never collide.
func AttachmentKey(ownerID, uniquePrefix, filename string) string {
	return path.Join("attachments", ownerID, uniquePrefix, path.Base(filename))
}
