// internal/artifacts/uploader_test.go
package artifacts

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/watchdog-cli/internal/config"
)

type mockStore struct {
	mock.Mock
	bodies map[string]string
}

func (m *mockStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	args := m.Called(ctx, bucket)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	return m.Called(ctx, bucket, opts).Error(0)
}

func (m *mockStore) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	args := m.Called(ctx, bucket, key, size, opts.ContentType)
	if err := args.Error(0); err != nil {
		return minio.UploadInfo{}, err
	}
	b, _ := io.ReadAll(r)
	if m.bodies == nil {
		m.bodies = make(map[string]string)
	}
	m.bodies[key] = string(b)
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: size}, nil
}

func testArtifactsConfig() config.ArtifactsConfig {
	return config.ArtifactsConfig{Enabled: true, Endpoint: "s3.local:9000", AccessKey: "a", SecretKey: "s", Region: "us-east-1", Bucket: "watchdog", Prefix: "runs"}
}

func writeRunDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "2024_05_01-12_00_00_UTC")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "login-failed.png"), []byte("png"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "login-failed.html"), []byte("<html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "output.txt"), []byte("FAILED"), 0o644))
	return dir
}

func TestUploadDir(t *testing.T) {
	dir := writeRunDir(t)
	store := &mockStore{}
	store.On("PutObject", mock.Anything, "watchdog", "runs/2024_05_01-12_00_00_UTC/login-failed.html", int64(6), "text/html; charset=utf-8").Return(nil)
	store.On("PutObject", mock.Anything, "watchdog", "runs/2024_05_01-12_00_00_UTC/login-failed.png", int64(3), "image/png").Return(nil)
	store.On("PutObject", mock.Anything, "watchdog", "runs/2024_05_01-12_00_00_UTC/output.txt", int64(6), "text/plain; charset=utf-8").Return(nil)

	u := NewUploader(store, testArtifactsConfig(), zaptest.NewLogger(t))
	keys, err := u.UploadDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"runs/2024_05_01-12_00_00_UTC/login-failed.html",
		"runs/2024_05_01-12_00_00_UTC/login-failed.png",
		"runs/2024_05_01-12_00_00_UTC/output.txt",
	}, keys, "directories are skipped, files go in name order")
	assert.Equal(t, "FAILED", store.bodies["runs/2024_05_01-12_00_00_UTC/output.txt"])
	store.AssertExpectations(t)
}

func TestUploadDir_PartialFailure(t *testing.T) {
	dir := writeRunDir(t)
	store := &mockStore{}
	boom := errors.New("access denied")
	store.On("PutObject", mock.Anything, "watchdog", "runs/2024_05_01-12_00_00_UTC/login-failed.png", mock.Anything, mock.Anything).Return(boom)
	store.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	keys, err := NewUploader(store, testArtifactsConfig(), zaptest.NewLogger(t)).UploadDir(context.Background(), dir)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, keys, 2)
}

func TestEnsureBucket(t *testing.T) {
	t.Run("Exists", func(t *testing.T) {
		store := &mockStore{}
		store.On("BucketExists", mock.Anything, "watchdog").Return(true, nil)
		require.NoError(t, NewUploader(store, testArtifactsConfig(), zaptest.NewLogger(t)).EnsureBucket(context.Background()))
		store.AssertNotCalled(t, "MakeBucket", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Creates", func(t *testing.T) {
		store := &mockStore{}
		store.On("BucketExists", mock.Anything, "watchdog").Return(false, nil)
		store.On("MakeBucket", mock.Anything, "watchdog", minio.MakeBucketOptions{Region: "us-east-1"}).Return(nil)
		require.NoError(t, NewUploader(store, testArtifactsConfig(), zaptest.NewLogger(t)).EnsureBucket(context.Background()))
		store.AssertExpectations(t)
	})
}

func TestNewMinIOClient(t *testing.T) {
	client, err := NewMinIOClient(testArtifactsConfig())
	require.NoError(t, err)
	assert.Equal(t, "s3.local:9000", client.EndpointURL().Host)

	cfg := testArtifactsConfig()
	cfg.Endpoint = "https://s3.local"
	_, err = NewMinIOClient(cfg)
	assert.Error(t, err, "endpoints are host:port without a scheme")
}
