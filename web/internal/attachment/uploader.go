// Package attachment 附件上传（S3 兼容对象存储）
package attachment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/incyashraj/ParkShare-sub000/shared/model"
	"github.com/incyashraj/ParkShare-sub000/web/internal/config"
)

const defaultMimeType = "application/octet-stream"

// objectAPI 上传所需的对象存储接口，便于在测试中替换
type objectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// Uploader 附件上传器，返回的描述由消息链路原样转发
type Uploader struct {
	api     objectAPI
	bucket  string
	baseURL string
	maxSize int64
	logger  *slog.Logger
}

// New 根据配置连接对象存储并确保 bucket 存在
func New(ctx context.Context, cfg config.StorageConfig) (*Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	baseURL := cfg.PublicBaseURL
	if baseURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}
	return newWithAPI(ctx, client, cfg.Bucket, baseURL, cfg.MaxUploadSize)
}

func newWithAPI(ctx context.Context, api objectAPI, bucket, baseURL string, maxSize int64) (*Uploader, error) {
	u := &Uploader{
		api:     api,
		bucket:  bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
		maxSize: maxSize,
		logger:  slog.Default().With("component", "attachment"),
	}

	exists, err := api.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := api.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return u, nil
}

// MaxSize 单个附件大小上限
func (u *Uploader) MaxSize() int64 {
	return u.maxSize
}

// Upload 上传附件并返回描述
func (u *Uploader) Upload(ctx context.Context, ownerId int64, filename, mimeType string, size int64, r io.Reader) (*model.Attachment, error) {
	if u.maxSize > 0 && size > u.maxSize {
		return nil, fmt.Errorf("attachment too large: %d > %d", size, u.maxSize)
	}

	name := sanitizeFilename(filename)
	if mimeType == "" {
		mimeType = defaultMimeType
	}
	key := path.Join("attachments", fmt.Sprint(ownerId), uuid.NewString(), name)

	info, err := u.api.PutObject(ctx, u.bucket, key, r, size, minio.PutObjectOptions{ContentType: mimeType})
	if err != nil {
		return nil, fmt.Errorf("upload object: %w", err)
	}
	if info.Size > 0 {
		size = info.Size
	}

	u.logger.Info("Attachment uploaded", "ownerId", ownerId, "key", key, "size", size)
	return &model.Attachment{
		URL:      u.baseURL + "/" + escapeKey(key),
		Filename: name,
		MimeType: mimeType,
		Size:     size,
	}, nil
}

// Remove 删除已上传的对象（URL 必须属于本存储）
func (u *Uploader) Remove(ctx context.Context, attachmentURL string) error {
	prefix := u.baseURL + "/"
	if !strings.HasPrefix(attachmentURL, prefix) {
		return fmt.Errorf("attachment %q is not stored here", attachmentURL)
	}
	key, err := url.PathUnescape(strings.TrimPrefix(attachmentURL, prefix))
	if err != nil {
		return err
	}
	return u.api.RemoveObject(ctx, u.bucket, key, minio.RemoveObjectOptions{})
}

func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" || name == ".." {
		return "file"
	}
	return name
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
