// Package storage は画像ファイルの保存先を提供する。
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

var (
	// ErrInvalidConfig は必須設定が欠けている場合のエラー。
	ErrInvalidConfig = errors.New("invalid storage configuration")
	// ErrEmptyImage は空の画像データが渡された場合のエラー。
	ErrEmptyImage = errors.New("empty image")
	// ErrImageTooLarge は画像サイズが上限を超えた場合のエラー。
	ErrImageTooLarge = errors.New("image too large")
	// ErrUnsupportedImage は許可されていない形式の場合のエラー。
	ErrUnsupportedImage = errors.New("unsupported image type")
	// ErrInvalidNamespace は保存先名前空間が不正な場合のエラー。
	ErrInvalidNamespace = errors.New("invalid image namespace")
	// ErrForeignURL はこのストアが発行していないURLを削除しようとした場合のエラー。
	ErrForeignURL = errors.New("image url not issued by this store")
)

// allowedImageTypes は保存を許可するContent-Typeと拡張子の対応。
var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// allowedNamespaces はユーザー画像の保存先。
var allowedNamespaces = map[string]bool{
	"profile": true,
	"logo":    true,
}

// ImageStore は画像を保存し、公開URLを返すインターフェース。
// Deleteは保存直後に不要になった画像（登録失敗時など）の後始末に使う。
type ImageStore interface {
	Store(ctx context.Context, data []byte, namespace string) (string, error)
	Delete(ctx context.Context, url string) error
}

// S3Client はS3ImageStoreが使用するS3操作のインターフェース。
// テストではモックに差し替える。
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config はS3保存先の設定。
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // S3互換ストレージ用（省略可）
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string // 公開URLのベース（省略時はバケットURL）
	ForcePathStyle  bool   // MinIO等のS3互換ストレージ用
	MaxBytes        int64
	UploadTimeout   time.Duration
}

// S3ImageStore はS3互換ストレージに画像を保存する。並行利用して安全。
type S3ImageStore struct {
	client        S3Client
	bucket        string
	baseURL       string
	maxBytes      int64
	uploadTimeout time.Duration
	newKey        func(namespace, ext string) string
}

// NewS3ImageStore はAWS SDKの設定を読み込んでS3ImageStoreを生成する。
func NewS3ImageStore(ctx context.Context, cfg S3Config) (*S3ImageStore, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, ErrInvalidConfig
	}

	awsOptions := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsOptions = append(awsOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, awsOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return NewS3ImageStoreWithClient(client, cfg)
}

// NewS3ImageStoreWithClient は構築済みのS3クライアントでS3ImageStoreを生成する。
func NewS3ImageStoreWithClient(client S3Client, cfg S3Config) (*S3ImageStore, error) {
	if client == nil || cfg.Bucket == "" {
		return nil, ErrInvalidConfig
	}

	return &S3ImageStore{
		client:        client,
		bucket:        cfg.Bucket,
		baseURL:       publicBaseURL(cfg),
		maxBytes:      cfg.MaxBytes,
		uploadTimeout: cfg.UploadTimeout,
		newKey:        randomKey,
	}, nil
}

// Store は画像を namespace/<uuid>.<ext> に保存し、公開URLを返す。
// 形式はContent-Typeヘッダーではなくデータ先頭のバイト列から判定する。
func (s *S3ImageStore) Store(ctx context.Context, data []byte, namespace string) (string, error) {
	if !allowedNamespaces[namespace] {
		return "", fmt.Errorf("%w: %q", ErrInvalidNamespace, namespace)
	}
	if len(data) == 0 {
		return "", ErrEmptyImage
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("%w: %d bytes (max %d)", ErrImageTooLarge, len(data), s.maxBytes)
	}

	contentType := http.DetectContentType(data)
	ext, ok := allowedImageTypes[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedImage, contentType)
	}

	if s.uploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.uploadTimeout)
		defer cancel()
	}

	key := s.newKey(namespace, ext)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}

	return s.baseURL + key, nil
}

// Delete はStoreが返したURLの画像を削除する。
func (s *S3ImageStore) Delete(ctx context.Context, url string) error {
	key := strings.TrimPrefix(url, s.baseURL)
	if key == url || key == "" {
		return fmt.Errorf("%w: %s", ErrForeignURL, url)
	}

	if s.uploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.uploadTimeout)
		defer cancel()
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete image %s: %w", key, err)
	}
	return nil
}

func randomKey(namespace, ext string) string {
	return namespace + "/" + uuid.NewString() + ext
}

func publicBaseURL(cfg S3Config) string {
	baseURL := cfg.PublicBaseURL
	if baseURL == "" {
		if cfg.Endpoint != "" {
			baseURL = fmt.Sprintf("%s/%s", strings.TrimSuffix(cfg.Endpoint, "/"), cfg.Bucket)
		} else {
			baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL
}

// compile-time interface check
var _ ImageStore = (*S3ImageStore)(nil)
