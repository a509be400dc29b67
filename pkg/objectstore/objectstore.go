// Package objectstore uploads session artifacts (report, CSV log) to
// S3-compatible object storage so long-running test rigs can archive
// results off-host.
package objectstore

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStorageClient is the interface for archiving artifacts.
type ObjectStorageClient interface {
	Connect(endpoint, accessKeyID, secretAccessKey string, useSSL bool) error
	UploadFile(ctx context.Context, bucket, objectName, filePath, contentType string) error
}

// ObjectStorage holds the object storage client instance.
type ObjectStorage struct {
	conn *minio.Client
}

// NewObjectStorage initialization
func NewObjectStorage() *ObjectStorage {
	return &ObjectStorage{}
}

// Connect establishes the object storage connection and verifies it by
// listing buckets.
func (o *ObjectStorage) Connect(endpoint, accessKeyID, secretAccessKey string, useSSL bool) error {
	var err error
	o.conn, err = minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to create minio client: %w", err)
	}

	if _, err := o.conn.ListBuckets(context.Background()); err != nil {
		return fmt.Errorf("failed to establish minio connection: %w", err)
	}
	return nil
}

// UploadFile stores a local file under objectName, creating the bucket
// when it does not exist yet.
func (o *ObjectStorage) UploadFile(ctx context.Context, bucket, objectName, filePath, contentType string) error {
	err := o.conn.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
	if err != nil {
		exists, errBucketExists := o.conn.BucketExists(ctx, bucket)
		if !(errBucketExists == nil && exists) {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	_, err = o.conn.FPutObject(ctx, bucket, objectName, filePath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", objectName, err)
	}
	return nil
}
