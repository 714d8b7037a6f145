// Package files stores document file payloads in object storage. The
// metadata row lives in the relational store as a dependent model; only
// the bytes live here.
package files

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Service struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the bucket exists.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Service, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	return &Service{client: client, bucket: bucket}, nil
}

// ObjectPath is where a document's file payload is stored.
func ObjectPath(documentID int64, pathName string) string {
	return fmt.Sprintf("documents/%d/%s", documentID, pathName)
}

// Store uploads the payload and returns its object path.
func (s *Service) Store(ctx context.Context, documentID int64, pathName, mimeType string, payload []byte) (string, error) {
	path := ObjectPath(documentID, pathName)
	_, err := s.client.PutObject(ctx, s.bucket, path,
		bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: mimeType})
	if err != nil {
		return "", fmt.Errorf("store %s: %w", path, err)
	}
	return path, nil
}

// Fetch reads a stored payload back.
func (s *Service) Fetch(ctx context.Context, storagePath string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, storagePath, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", storagePath, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", storagePath, err)
	}
	return data, nil
}

// Remove deletes a stored payload. Removing a missing object is a no-op.
func (s *Service) Remove(ctx context.Context, storagePath string) error {
	err := s.client.RemoveObject(ctx, s.bucket, storagePath, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("remove %s: %w", storagePath, err)
	}
	return nil
}

// PresignedURL returns a short-lived download link for a payload.
func (s *Service) PresignedURL(ctx context.Context, storagePath string, expiry time.Duration) (string, error) {
	url, err := s.client.PresignedGetObject(ctx, s.bucket, storagePath, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", storagePath, err)
	}
	return url.String(), nil
}
