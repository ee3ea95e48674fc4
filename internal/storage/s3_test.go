package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- モック定義 ---

type mockS3Client struct {
	mock.Mock
}

func (m *mockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

func (m *mockS3Client) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.DeleteObjectOutput), args.Error(1)
}

// 先頭バイトで形式判定される最小限の画像データ
var (
	pngData  = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 16)...)
	jpegData = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, make([]byte, 16)...)
	gifData  = append([]byte("GIF89a"), make([]byte, 16)...)
)

func newTestStore(t *testing.T, client S3Client, cfg S3Config) *S3ImageStore {
	t.Helper()
	if cfg.Bucket == "" {
		cfg.Bucket = "cafesns-images"
	}
	if cfg.Region == "" {
		cfg.Region = "ap-northeast-2"
	}
	store, err := NewS3ImageStoreWithClient(client, cfg)
	require.NoError(t, err)
	store.newKey = func(namespace, ext string) string { return namespace + "/fixed" + ext }
	return store
}

func TestS3ImageStore_Store(t *testing.T) {
	cases := []struct {
		name        string
		data        []byte
		namespace   string
		contentType string
		wantKey     string
	}{
		{"png profile", pngData, "profile", "image/png", "profile/fixed.png"},
		{"jpeg logo", jpegData, "logo", "image/jpeg", "logo/fixed.jpg"},
		{"gif profile", gifData, "profile", "image/gif", "profile/fixed.gif"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := new(mockS3Client)
			client.On("PutObject",
				mock.Anything,
				mock.MatchedBy(func(in *s3.PutObjectInput) bool {
					return *in.Bucket == "cafesns-images" &&
						*in.Key == tc.wantKey &&
						*in.ContentType == tc.contentType &&
						*in.ContentLength == int64(len(tc.data))
				}),
			).Return(&s3.PutObjectOutput{}, nil)

			store := newTestStore(t, client, S3Config{PublicBaseURL: "https://cdn.example.com/images"})

			url, err := store.Store(context.Background(), tc.data, tc.namespace)
			require.NoError(t, err)
			assert.Equal(t, "https://cdn.example.com/images/"+tc.wantKey, url)
			client.AssertExpectations(t)
		})
	}
}

func TestS3ImageStore_Store_RejectsBeforeUpload(t *testing.T) {
	cases := []struct {
		name      string
		data      []byte
		namespace string
		wantErr   error
	}{
		{"empty", nil, "profile", ErrEmptyImage},
		{"too large", append(pngData, make([]byte, 64)...), "profile", ErrImageTooLarge},
		{"text", []byte("hello, world"), "profile", ErrUnsupportedImage},
		{"html disguised", []byte("<html><script>alert(1)</script></html>"), "logo", ErrUnsupportedImage},
		{"unknown namespace", pngData, "banner", ErrInvalidNamespace},
		{"path traversal namespace", pngData, "../profile", ErrInvalidNamespace},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := new(mockS3Client)
			store := newTestStore(t, client, S3Config{MaxBytes: 64})

			url, err := store.Store(context.Background(), tc.data, tc.namespace)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Empty(t, url)
			// アップロード前に拒否されるためS3は呼ばれない
			client.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything)
		})
	}
}

func TestS3ImageStore_Store_UploadError(t *testing.T) {
	client := new(mockS3Client)
	client.On("PutObject", mock.Anything, mock.Anything).Return(nil, errors.New("access denied"))

	store := newTestStore(t, client, S3Config{})

	_, err := store.Store(context.Background(), pngData, "profile")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestS3ImageStore_Store_AppliesUploadTimeout(t *testing.T) {
	client := new(mockS3Client)
	client.On("PutObject",
		mock.MatchedBy(func(ctx context.Context) bool {
			_, ok := ctx.Deadline()
			return ok
		}),
		mock.Anything,
	).Return(&s3.PutObjectOutput{}, nil)

	store := newTestStore(t, client, S3Config{UploadTimeout: 5 * time.Second})

	_, err := store.Store(context.Background(), pngData, "profile")
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestNewS3ImageStoreWithClient_InvalidConfig(t *testing.T) {
	_, err := NewS3ImageStoreWithClient(nil, S3Config{Bucket: "b"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewS3ImageStoreWithClient(new(mockS3Client), S3Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewS3ImageStore_RequiresBucketAndRegion(t *testing.T) {
	_, err := NewS3ImageStore(context.Background(), S3Config{Bucket: "b"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPublicBaseURL(t *testing.T) {
	cases := []struct {
		name string
		cfg  S3Config
		want string
	}{
		{"explicit", S3Config{PublicBaseURL: "https://cdn.example.com/"}, "https://cdn.example.com/"},
		{"endpoint", S3Config{Bucket: "b", Endpoint: "http://minio:9000/"}, "http://minio:9000/b/"},
		{"aws", S3Config{Bucket: "b", Region: "ap-northeast-2"}, "https://b.s3.ap-northeast-2.amazonaws.com/"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, publicBaseURL(tc.cfg))
		})
	}
}

func TestRandomKey(t *testing.T) {
	a := randomKey("profile", ".png")
	b := randomKey("profile", ".png")

	assert.True(t, strings.HasPrefix(a, "profile/"))
	assert.True(t, strings.HasSuffix(a, ".png"))
	assert.NotEqual(t, a, b)
}

func TestS3ImageStore_Delete(t *testing.T) {
	client := new(mockS3Client)
	client.On("DeleteObject",
		mock.Anything,
		mock.MatchedBy(func(in *s3.DeleteObjectInput) bool {
			return *in.Bucket == "cafesns-images" && *in.Key == "logo/fixed.png"
		}),
	).Return(&s3.DeleteObjectOutput{}, nil).Once()

	store := newTestStore(t, client, S3Config{PublicBaseURL: "https://cdn.example.com"})

	require.NoError(t, store.Delete(context.Background(), "https://cdn.example.com/logo/fixed.png"))
	client.AssertExpectations(t)
}

func TestS3ImageStore_Delete_ForeignURL(t *testing.T) {
	client := new(mockS3Client)
	store := newTestStore(t, client, S3Config{PublicBaseURL: "https://cdn.example.com"})

	for _, url := range []string{"https://evil.example.com/logo/fixed.png", "https://cdn.example.com/"} {
		assert.ErrorIs(t, store.Delete(context.Background(), url), ErrForeignURL)
	}
	client.AssertNotCalled(t, "DeleteObject", mock.Anything, mock.Anything)
}

func TestS3ImageStore_Delete_ClientError(t *testing.T) {
	client := new(mockS3Client)
	client.On("DeleteObject", mock.Anything, mock.Anything).Return(nil, errors.New("access denied"))

	store := newTestStore(t, client, S3Config{})

	err := store.Delete(context.Background(), "https://cafesns-images.s3.ap-northeast-2.amazonaws.com/profile/fixed.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile/fixed.png")
}
