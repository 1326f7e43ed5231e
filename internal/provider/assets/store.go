// Package assets copies provider-hosted generation results into durable,
// S3-compatible object storage. Provider URLs expire; the URL returned by
// Upload is the one persisted on the job.
package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tbourn/genstudio-backend/internal/config"
)

// ErrTooLarge is returned when the source exceeds the configured size limit.
var ErrTooLarge = errors.New("assets: source exceeds size limit")

// ObjectPutter is the subset of the S3 API the store needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store downloads remote files and writes them to a bucket.
type Store struct {
	S3            ObjectPutter
	Bucket        string
	PublicBaseURL string
	MaxBytes      int64
	HTTPClient    *http.Client
}

// New builds a Store backed by the S3 client described by cfg. A custom
// endpoint switches to path-style addressing for S3-compatible providers.
func New(ctx context.Context, cfg config.AssetsConfig) (*Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("assets: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Store{
		S3:            client,
		Bucket:        cfg.Bucket,
		PublicBaseURL: publicBase(cfg),
		MaxBytes:      cfg.MaxBytes,
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

func publicBase(cfg config.AssetsConfig) string {
	if cfg.PublicBaseURL != "" {
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	}
	if cfg.Endpoint != "" {
		return strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
}

// Upload copies sourceURL to <folder>/<fileName> and returns its public URL.
func (s *Store) Upload(ctx context.Context, sourceURL, fileName, folder string) (string, error) {
	key := objectKey(folder, fileName)
	lg := zerolog.Ctx(ctx).With().Str("key", key).Logger()

	body, contentType, err := s.download(ctx, sourceURL)
	if err != nil {
		return "", err
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = typeByExt(path.Ext(fileName))
	}

	_, err = s.S3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", fmt.Errorf("assets: put %s: %w", key, err)
	}
	lg.Debug().Int("bytes", len(body)).Str("content_type", contentType).Msg("asset stored")
	return s.PublicBaseURL + "/" + key, nil
}

func (s *Store) download(ctx context.Context, sourceURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("assets: create request: %w", err)
	}
	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("assets: fetch source: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("assets: fetch source: unexpected status code: %d", resp.StatusCode)
	}

	var r io.Reader = resp.Body
	if s.MaxBytes > 0 {
		if resp.ContentLength > s.MaxBytes {
			return nil, "", ErrTooLarge
		}
		r = io.LimitReader(resp.Body, s.MaxBytes+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("assets: read source: %w", err)
	}
	if s.MaxBytes > 0 && int64(len(body)) > s.MaxBytes {
		return nil, "", ErrTooLarge
	}

	ct := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mt
	}
	return body, ct, nil
}

var extTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
}

// typeByExt does not depend on the host's mime.types for the result formats.
func typeByExt(ext string) string {
	ext = strings.ToLower(ext)
	if ct, ok := extTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func objectKey(folder, fileName string) string {
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return fileName
	}
	return folder + "/" + fileName
}
