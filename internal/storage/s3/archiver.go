// Package s3 archives detection batches to S3-compatible object
// storage for long-term retention.
package s3

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Config holds S3 connection and behavior configuration.
type Config struct {
	Region string `yaml:"region"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`

	// Endpoint is an optional custom endpoint for S3-compatible
	// storage such as MinIO.
	Endpoint     string `yaml:"endpoint,omitempty"`
	UsePathStyle bool   `yaml:"use_path_style"`

	// Static credentials; IAM is used when unset.
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	SessionToken    string `yaml:"session_token,omitempty"`

	StorageClass     string        `yaml:"storage_class"`
	RetryMaxAttempts int           `yaml:"retry_max_attempts"`
	Timeout          time.Duration `yaml:"timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Region:           "us-east-1",
		Bucket:           "agent-sentinel-archive",
		Prefix:           "detections/",
		StorageClass:     "INTELLIGENT_TIERING",
		RetryMaxAttempts: 3,
		Timeout:          5 * time.Minute,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Region == "" {
		return errors.New("s3: region is required")
	}
	if c.Bucket == "" {
		return errors.New("s3: bucket is required")
	}
	return nil
}

func (c *Config) storageClass() types.StorageClass {
	switch c.StorageClass {
	case "STANDARD_IA":
		return types.StorageClassStandardIa
	case "INTELLIGENT_TIERING":
		return types.StorageClassIntelligentTiering
	case "GLACIER":
		return types.StorageClassGlacier
	case "DEEP_ARCHIVE":
		return types.StorageClassDeepArchive
	default:
		return types.StorageClassStandard
	}
}

// Archiver writes gzip-compressed JSON batches to S3.
type Archiver struct {
	client *s3.Client
	config *Config
	logger *slog.Logger

	objectsUploaded atomic.Int64
	bytesUploaded   atomic.Int64
	uploadErrors    atomic.Int64
}

// NewArchiver creates an archiver for the configured bucket.
func NewArchiver(ctx context.Context, cfg *Config, logger *slog.Logger) (*Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
		)
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}
	if cfg.RetryMaxAttempts > 0 {
		opts = append(opts, awsconfig.WithRetryMaxAttempts(cfg.RetryMaxAttempts))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	a := &Archiver{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		config: cfg,
		logger: logger,
	}
	logger.Info("s3 archiver initialized",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"storage_class", cfg.StorageClass,
	)
	return a, nil
}

// ArchiveBatch marshals the batch to JSON, gzips it, and uploads it
// under a time-partitioned key: <prefix><kind>/2006/01/02/<kind>-<ts>.json.gz
func (a *Archiver) ArchiveBatch(ctx context.Context, kind string, batch any) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("s3: failed to marshal %s batch: %w", kind, err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return fmt.Errorf("s3: failed to compress %s batch: %w", kind, err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("s3: failed to finish compression: %w", err)
	}

	now := time.Now().UTC()
	key := fmt.Sprintf("%s%s/%s/%s-%d.json.gz",
		a.config.Prefix, kind, now.Format("2006/01/02"), kind, now.UnixNano())

	if a.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.config.Bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
		StorageClass:    a.config.storageClass(),
	})
	if err != nil {
		a.uploadErrors.Add(1)
		return fmt.Errorf("s3: failed to upload %s: %w", key, err)
	}

	a.objectsUploaded.Add(1)
	a.bytesUploaded.Add(int64(buf.Len()))
	a.logger.Debug("archived batch",
		"key", key,
		"kind", kind,
		"bytes", buf.Len(),
	)
	return nil
}

// Metrics holds archiver statistics.
type Metrics struct {
	ObjectsUploaded int64 `json:"objects_uploaded"`
	BytesUploaded   int64 `json:"bytes_uploaded"`
	UploadErrors    int64 `json:"upload_errors"`
}

// Metrics returns archiver statistics.
func (a *Archiver) Metrics() Metrics {
	return Metrics{
		ObjectsUploaded: a.objectsUploaded.Load(),
		BytesUploaded:   a.bytesUploaded.Load(),
		UploadErrors:    a.uploadErrors.Load(),
	}
}
