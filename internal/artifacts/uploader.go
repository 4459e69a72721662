// internal/artifacts/uploader.go
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/xkilldash9x/watchdog-cli/internal/config"
)

// ObjectStore is the subset of *minio.Client the uploader uses.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

var _ ObjectStore = (*minio.Client)(nil)

// Uploader copies a run directory to S3-compatible storage.
type Uploader struct {
	store  ObjectStore
	bucket string
	prefix string
	region string
	logger *zap.Logger
}

// NewMinIOClient builds a client for cfg.
func NewMinIOClient(cfg config.ArtifactsConfig) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
}

// NewUploader returns an uploader writing into cfg.Bucket under cfg.Prefix.
func NewUploader(store ObjectStore, cfg config.ArtifactsConfig, logger *zap.Logger) *Uploader {
	return &Uploader{
		store:  store,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		region: cfg.Region,
		logger: logger.Named("artifacts"),
	}
}

// EnsureBucket creates the bucket if it is missing.
func (u *Uploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.store.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", u.bucket, err)
	}
	if exists {
		return nil
	}
	if err := u.store.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{Region: u.region}); err != nil {
		return fmt.Errorf("creating bucket %s: %w", u.bucket, err)
	}
	return nil
}

// Key returns the object key for file inside the run directory runDir.
func (u *Uploader) Key(runDir, file string) string {
	return path.Join(u.prefix, filepath.Base(runDir), file)
}

// UploadDir uploads every regular file directly inside runDir. It keeps going
// after a failed file and returns the keys that made it along with the joined errors.
func (u *Uploader) UploadDir(ctx context.Context, runDir string) ([]string, error) {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		return nil, fmt.Errorf("reading run directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var keys []string
	var errs []error
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		key := u.Key(runDir, e.Name())
		if err := u.uploadFile(ctx, filepath.Join(runDir, e.Name()), key); err != nil {
			errs = append(errs, err)
			continue
		}
		keys = append(keys, key)
	}

	u.logger.Info("Run artifacts uploaded.",
		zap.String("bucket", u.bucket),
		zap.Int("objects", len(keys)),
		zap.Int("failed", len(errs)),
	)
	return keys, errors.Join(errs...)
}

func (u *Uploader) uploadFile(ctx context.Context, file, key string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("opening %s: %w", file, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", file, err)
	}

	opts := minio.PutObjectOptions{ContentType: contentType(file)}
	if _, err := u.store.PutObject(ctx, u.bucket, key, f, info.Size(), opts); err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	u.logger.Debug("Uploaded artifact.", zap.String("key", key), zap.Int64("size", info.Size()))
	return nil
}

func contentType(file string) string {
	switch filepath.Ext(file) {
	case ".log", ".txt":
		return "text/plain; charset=utf-8"
	}
	if ct := mime.TypeByExtension(filepath.Ext(file)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
