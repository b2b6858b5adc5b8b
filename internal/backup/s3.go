package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	apperrors "github.com/kimhsiao/contactsync/internal/errors"
)

// S3 providers with preset addressing.
const (
	ProviderAWS   = "aws"
	ProviderMinIO = "minio"
	ProviderR2    = "r2"
)

// S3Config holds S3 connection configuration.
type S3Config struct {
	// Provider selects endpoint and addressing defaults: aws, minio or r2.
	Provider string
	// Endpoint overrides the provider endpoint. MinIO requires it.
	Endpoint string
	// AccountID is the Cloudflare account of an R2 bucket.
	AccountID string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	// PathStyle forces path-style URLs (endpoint/bucket/key).
	PathStyle bool
	// Prefix is prepended to every key.
	Prefix string
}

// normalize applies the provider presets.
func (c S3Config) normalize() (S3Config, error) {
	if c.Bucket == "" {
		return c, apperrors.New(apperrors.ErrConfig, "S3 bucket is required")
	}
	switch strings.ToLower(c.Provider) {
	case "", ProviderAWS:
		c.Provider = ProviderAWS
		if c.Region == "" {
			c.Region = "us-east-1"
		}
	case ProviderMinIO:
		if c.Endpoint == "" {
			return c, apperrors.New(apperrors.ErrConfig, "MinIO endpoint is required")
		}
		if !strings.HasPrefix(c.Endpoint, "http://") && !strings.HasPrefix(c.Endpoint, "https://") {
			c.Endpoint = "https://" + c.Endpoint
		}
		// MinIO ignores regions but the signer needs one.
		if c.Region == "" {
			c.Region = "us-east-1"
		}
		c.PathStyle = true
	case ProviderR2:
		if c.Endpoint == "" {
			if c.AccountID == "" {
				return c, apperrors.New(apperrors.ErrConfig, "R2 account ID is required")
			}
			c.Endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.AccountID)
		}
		c.Region = "auto"
	default:
		return c, apperrors.Newf(apperrors.ErrConfig, "unknown S3 provider %q (valid: aws, minio, r2)", c.Provider)
	}
	c.Endpoint = strings.TrimSuffix(c.Endpoint, "/")
	if c.Prefix != "" && !strings.HasSuffix(c.Prefix, "/") {
		c.Prefix += "/"
	}
	return c, nil
}

// S3Store is an ObjectStore in an S3-compatible bucket.
type S3Store struct {
	client *s3.Client
	config S3Config
}

// NewS3Store creates a store for cfg. Static credentials are used when both
// keys are set; otherwise the default AWS credential chain applies.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
		// S3-compatible stores do not all support flexible checksums.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	return &S3Store{client: client, config: cfg}, nil
}

// Upload implements ObjectStore.
func (s *S3Store) Upload(ctx context.Context, key string, data []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(s.config.Prefix + key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("S3 put object failed: %w", err)
	}
	return nil
}

// Download implements ObjectStore.
func (s *S3Store) Download(ctx context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.config.Prefix + key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, apperrors.Newf(apperrors.ErrNotFound, "backup %s not found", key)
		}
		return nil, fmt.Errorf("S3 get object failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("S3 read body failed: %w", err)
	}
	return data, nil
}

// Delete implements ObjectStore.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.config.Prefix + key),
	})
	if err != nil {
		return fmt.Errorf("S3 delete object failed: %w", err)
	}
	return nil
}

// List implements ObjectStore. Returned keys exclude the configured prefix.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.Bucket),
		Prefix: aws.String(s.config.Prefix + prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("S3 list objects failed: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), s.config.Prefix))
		}
	}
	sort.Strings(keys)
	return keys, nil
}
