package repository

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/decksense/presentation-backend/config"
)

// ObjectStorage stages uploaded presentation files until the pipeline
// consumes them. Objects are keyed by job ID and deleted once the job
// reaches a terminal state.
type ObjectStorage interface {
	UploadFile(ctx context.Context, objectPath string, content []byte, mimeType string) error
	GetFile(ctx context.Context, objectPath string) ([]byte, error)
	DeleteFile(ctx context.Context, objectPath string) error
}

type minioStorage struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// NewMinioObjectStorage connects to MinIO and makes sure the upload bucket
// exists.
func NewMinioObjectStorage(ctx context.Context, cfg config.MinioConfig, logger *zap.Logger) (ObjectStorage, error) {
	logger = logger.With(
		zap.String("host:port", cfg.Host+":"+cfg.Port),
		zap.String("bucket", cfg.BucketName),
	)

	client, err := minio.New(cfg.Host+":"+cfg.Port, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.User, cfg.Password, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to MinIO: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("checking bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket: %w", err)
		}
		logger.Info("Successfully created bucket")
	} else {
		logger.Info("Bucket already exists")
	}

	return &minioStorage{
		client: client,
		bucket: cfg.BucketName,
		logger: logger,
	}, nil
}

func (m *minioStorage) UploadFile(ctx context.Context, objectPath string, content []byte, mimeType string) error {
	size := int64(len(content))

	var err error
	// Retry with a fresh reader on each attempt (readers can only be read once)
	for i := 0; i < 3; i++ {
		reader := bytes.NewReader(content)
		_, err = m.client.PutObject(ctx, m.bucket, objectPath, reader, size, minio.PutObjectOptions{
			ContentType: mimeType,
		})
		if err == nil {
			return nil
		}
		m.logger.Warn("Failed to upload file, retrying",
			zap.String("object", objectPath), zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	return fmt.Errorf("uploading object %s: %w", objectPath, err)
}

func (m *minioStorage) GetFile(ctx context.Context, objectPath string) ([]byte, error) {
	object, err := m.client.GetObject(ctx, m.bucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("getting object %s: %w", objectPath, err)
	}
	defer object.Close()

	content, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("reading object %s: %w", objectPath, err)
	}
	return content, nil
}

func (m *minioStorage) DeleteFile(ctx context.Context, objectPath string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, objectPath, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("deleting object %s: %w", objectPath, err)
	}
	return nil
}
