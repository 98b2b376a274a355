// Package artifacts stores evidence of failed runs in S3-compatible object
// storage. Objects are keyed runs/<run-id>/<scenario>/<file>.
package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kuitang/crmscenarios/internal/obs"
	"github.com/kuitang/crmscenarios/internal/report"
)

// ErrObjectNotFound is returned when a requested object does not exist.
var ErrObjectNotFound = errors.New("artifacts: object not found")

const (
	ScreenshotFile = "screenshot.png"
	ResultFile     = "result.json"
)

// Store writes run artifacts to one bucket.
type Store struct {
	s3Client   *s3.Client
	bucketName string
	prefix     string
	publicURL  string
}

// Config holds the configuration for creating a Store.
type Config struct {
	// Endpoint is the S3 endpoint URL. Leave empty to use AWS S3.
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	// Prefix is prepended to every key.
	Prefix string
	// PublicURL is the base URL reported for stored objects. Empty reports
	// s3://bucket/key locations.
	PublicURL string
	// UsePathStyle is required by most S3-compatible servers (and gofakes3).
	UsePathStyle bool
}

// Enabled reports whether cfg names a bucket.
func (cfg Config) Enabled() bool {
	return cfg.BucketName != ""
}

// New creates a Store. Credentials fall back to the AWS default chain when
// no static keys are set.
func New(ctx context.Context, cfg Config) (*Store, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithHTTPClient(&http.Client{Transport: obs.Transport("artifacts", nil)}),
	}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	sdkConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewFromS3Client(s3Client, cfg.BucketName, cfg.Prefix, cfg.PublicURL), nil
}

// NewFromS3Client creates a Store from an existing S3 client.
func NewFromS3Client(s3Client *s3.Client, bucketName, prefix, publicURL string) *Store {
	return &Store{
		s3Client:   s3Client,
		bucketName: bucketName,
		prefix:     strings.Trim(prefix, "/"),
		publicURL:  strings.TrimSuffix(publicURL, "/"),
	}
}

// Key returns the object key for a run's file.
func (s *Store) Key(runID, scenarioName, file string) string {
	return path.Join(s.prefix, "runs", runID, scenarioName, file)
}

// Location returns where a key can be fetched from.
func (s *Store) Location(key string) string {
	if s.publicURL != "" {
		return s.publicURL + "/" + strings.TrimPrefix(key, "/")
	}
	return "s3://" + s.bucketName + "/" + key
}

// PutObject stores content under key.
func (s *Store) PutObject(ctx context.Context, key string, content []byte, contentType string) error {
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("artifacts: failed to put object %q: %w", key, err)
	}
	return nil
}

// GetObject retrieves the content stored under key.
// Returns ErrObjectNotFound if the key does not exist.
func (s *Store) GetObject(ctx context.Context, key string) ([]byte, error) {
	result, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrObjectNotFound
		}
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("artifacts: failed to get object %q: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("artifacts: failed to read object body %q: %w", key, err)
	}
	return data, nil
}

// List returns the keys stored for a run, in lexical order.
func (s *Store) List(ctx context.Context, runID string) ([]string, error) {
	prefix := path.Join(s.prefix, "runs", runID) + "/"
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucketName),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("artifacts: failed to list %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// SaveFailure uploads the failure screenshot (when present) and the JSON
// result of a failed run, returning their locations. A failed upload does
// not stop the other one.
func (s *Store) SaveFailure(ctx context.Context, res report.Result, screenshot []byte) ([]string, error) {
	logger := obs.From(ctx)
	var (
		locations []string
		saveErrs  []error
	)

	if len(screenshot) > 0 {
		key := s.Key(res.RunID, res.Scenario, ScreenshotFile)
		if err := s.PutObject(ctx, key, screenshot, "image/png"); err != nil {
			saveErrs = append(saveErrs, err)
		} else {
			locations = append(locations, s.Location(key))
		}
	}

	body, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		saveErrs = append(saveErrs, fmt.Errorf("artifacts: encode result: %w", err))
	} else {
		key := s.Key(res.RunID, res.Scenario, ResultFile)
		if err := s.PutObject(ctx, key, body, "application/json"); err != nil {
			saveErrs = append(saveErrs, err)
		} else {
			locations = append(locations, s.Location(key))
		}
	}

	if len(locations) > 0 {
		logger.Info("artifacts stored", "bucket", s.bucketName, "count", len(locations))
	}
	return locations, errors.Join(saveErrs...)
}

// BucketName returns the configured bucket name.
func (s *Store) BucketName() string {
	return s.bucketName
}
