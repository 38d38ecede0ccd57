package gcp

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/trace-backend/internal/platform/ctxutil"
	"github.com/yungbote/trace-backend/internal/platform/envutil"
	"github.com/yungbote/trace-backend/internal/platform/logger"
)

// FrameStore uploads extracted keyframes so the GPU service can fetch them by URL.
type FrameStore struct {
	log       *logger.Logger
	client    *storage.Client
	cfg       StorageConfig
	signedTTL time.Duration
}

// NewFrameStoreFromEnv returns (nil, nil) when FRAMES_GCS_BUCKET_NAME is unset.
func NewFrameStoreFromEnv(log *logger.Logger) (*FrameStore, error) {
	if strings.TrimSpace(os.Getenv("FRAMES_GCS_BUCKET_NAME")) == "" {
		return nil, nil
	}
	cfg, err := ResolveStorageConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("resolve frame storage config: %w", err)
	}
	fs, err := NewFrameStore(context.Background(), log, cfg)
	if err != nil {
		return nil, err
	}
	fs.signedTTL = envutil.Duration("FRAMES_SIGNED_URL_TTL", 0)
	return fs, nil
}

func NewFrameStore(ctx context.Context, log *logger.Logger, cfg StorageConfig) (*FrameStore, error) {
	if err := ValidateStorageConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate frame storage config: %w", err)
	}
	client, err := newStorageClient(ctxutil.Default(ctx), cfg)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	slog := log.With("service", "gcp.FrameStore")
	slog.Info("Frame storage initialized",
		"mode", cfg.Mode,
		"inferred_mode", cfg.Inferred,
		"bucket", cfg.Bucket,
		"public_base_url", cfg.PublicBaseURL,
	)
	return &FrameStore{log: slog, client: client, cfg: cfg}, nil
}

func newStorageClient(ctx context.Context, cfg StorageConfig) (*storage.Client, error) {
	if cfg.IsEmulator() {
		_ = os.Setenv("STORAGE_EMULATOR_HOST", cfg.EmulatorHost)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	}
	opts := append(ClientOptionsFromEnv(), option.WithScopes(storage.ScopeReadWrite))
	return storage.NewClient(ctx, opts...)
}

func (fs *FrameStore) Close() error {
	if fs == nil || fs.client == nil {
		return nil
	}
	return fs.client.Close()
}

// Upload writes r under key and returns the URL the object can be fetched from.
func (fs *FrameStore) Upload(ctx context.Context, key string, r io.Reader) (string, error) {
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), 2*time.Minute)
	defer cancel()

	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	w := fs.client.Bucket(fs.cfg.Bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentTypeForKey(key)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write frame %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close frame writer %q: %w", key, err)
	}
	if fs.signedTTL > 0 && !fs.cfg.IsEmulator() {
		signed, err := fs.client.Bucket(fs.cfg.Bucket).SignedURL(key, &storage.SignedURLOptions{
			Scheme:  storage.SigningSchemeV4,
			Method:  "GET",
			Expires: time.Now().Add(fs.signedTTL),
		})
		if err == nil {
			return signed, nil
		}
		fs.log.Warn("Signed URL failed; using public URL", "key", key, "error", err)
	}
	return fs.PublicURL(key), nil
}

func (fs *FrameStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), 30*time.Second)
	defer cancel()
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if err := fs.client.Bucket(fs.cfg.Bucket).Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("delete frame %q in bucket %q: %w", key, fs.cfg.Bucket, err)
	}
	return nil
}

func (fs *FrameStore) PublicURL(key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if fs.cfg.IsEmulator() {
		base := fs.cfg.PublicBaseURL
		if base == "" {
			base = fs.cfg.EmulatorHost
		}
		return fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media", base, url.PathEscape(fs.cfg.Bucket), url.PathEscape(key))
	}
	if fs.cfg.PublicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", fs.cfg.PublicBaseURL, fs.cfg.Bucket, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", fs.cfg.Bucket, key)
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(key)
	switch {
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".webp"):
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
