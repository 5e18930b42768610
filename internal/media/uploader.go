// Package media uploads photo and video attachments to the object store
// before the message referencing them is written. The engine only ever
// sees the resulting absolute URL.
package media

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/pairmsg/pairmsg/internal/config"
)

// Object name prefixes, one per attachment kind.
const (
	photoPrefix = "message_images/"
	videoPrefix = "message_videos/"
)

// Uploader stores message attachments in a MinIO bucket.
type Uploader struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// NewUploader connects to the configured object store and makes sure the
// bucket exists.
func NewUploader(ctx context.Context, cfg config.Media, logger *zap.Logger) (*Uploader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("media client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
		}
		logger.Info("media bucket created", zap.String("bucket", cfg.Bucket))
	}

	return &Uploader{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// UploadMessagePhoto stores a photo attachment and returns its absolute
// URL.
func (u *Uploader) UploadMessagePhoto(ctx context.Context, messageID string, r io.Reader, size int64) (string, error) {
	return u.put(ctx, PhotoObjectName(messageID), "image/png", r, size)
}

// UploadMessageVideo stores a video attachment and returns its absolute
// URL.
func (u *Uploader) UploadMessageVideo(ctx context.Context, messageID string, r io.Reader, size int64) (string, error) {
	return u.put(ctx, VideoObjectName(messageID), "video/mp4", r, size)
}

func (u *Uploader) put(ctx context.Context, object, contentType string, r io.Reader, size int64) (string, error) {
	_, err := u.client.PutObject(ctx, u.bucket, object, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %q: %w", object, err)
	}

	url := fmt.Sprintf("%s/%s/%s", u.client.EndpointURL(), u.bucket, object)
	u.logger.Info("attachment uploaded", zap.String("object", object), zap.String("url", url))
	return url, nil
}

// PhotoObjectName returns the bucket object name for a photo attached to
// messageID.
func PhotoObjectName(messageID string) string {
	return photoPrefix + "photo_message_" + messageID + ".png"
}

// VideoObjectName returns the bucket object name for a video attached to
// messageID.
func VideoObjectName(messageID string) string {
	return videoPrefix + "video_message_" + messageID + ".mp4"
}
