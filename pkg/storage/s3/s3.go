// Package s3 provides an S3 backed object store for collected artifacts.
package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	tferrors "github.com/transitflow/transitflow/pkg/errors"
	"github.com/transitflow/transitflow/pkg/interfaces"
)

// Config holds S3 client configuration.
type Config struct {
	// Region is the AWS region (e.g., "eu-central-1")
	Region string

	// Bucket is the target bucket name
	Bucket string

	// Endpoint overrides the default S3 endpoint (for S3-compatible services)
	Endpoint string

	// UsePathStyle forces path-style addressing (for MinIO, LocalStack)
	UsePathStyle bool

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// OperationTimeout bounds each API call.
	OperationTimeout time.Duration

	// MaxAttempts caps SDK-level retries per call (0 keeps the SDK default).
	MaxAttempts int

	// HTTPClient overrides the SDK transport (tests).
	HTTPClient *http.Client
}

// DefaultConfig returns sensible defaults for S3 configuration.
func DefaultConfig(bucket, region string) Config {
	return Config{
		Bucket:           bucket,
		Region:           region,
		OperationTimeout: 30 * time.Second,
	}
}

// Client implements interfaces.ObjectStore on a single bucket.
type Client struct {
	cfg    Config
	client *s3.Client
}

// NewClient creates a new S3 client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 30 * time.Second
	}

	var opts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	// Use explicit credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			),
		))
	}

	if cfg.MaxAttempts > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(cfg.MaxAttempts))
	}

	if cfg.HTTPClient != nil {
		opts = append(opts, config.WithHTTPClient(cfg.HTTPClient))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
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

	return &Client{
		cfg:    cfg,
		client: s3.NewFromConfig(awsCfg, s3Opts...),
	}, nil
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string {
	return c.cfg.Bucket
}

// Scheme returns "s3".
func (c *Client) Scheme() string {
	return "s3"
}

// Put uploads data under key in a single request.
//
// With IfNotExists the key is checked with HeadObject first. Two writers
// racing on the same key between the check and the upload can both succeed;
// run-scoped keys make that window irrelevant in practice.
func (c *Client) Put(ctx context.Context, key string, data io.Reader, opts interfaces.PutOptions) (interfaces.ObjectInfo, error) {
	payload, err := io.ReadAll(data)
	if err != nil {
		return interfaces.ObjectInfo{}, tferrors.StorageUnavailable(err, key)
	}

	if opts.IfNotExists {
		exists, err := c.Exists(ctx, key)
		if err != nil {
			return interfaces.ObjectInfo{}, err
		}
		if exists {
			return interfaces.ObjectInfo{}, tferrors.KeyExists(key)
		}
	}

	opCtx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()

	sum := md5.Sum(payload)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(c.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentLength: aws.Int64(int64(len(payload))),
		ContentMD5:    aws.String(base64.StdEncoding.EncodeToString(sum[:])),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = opts.Metadata
	}

	output, err := c.client.PutObject(opCtx, input)
	if err != nil {
		return interfaces.ObjectInfo{}, c.classify(ctx, err, key, "put")
	}

	return interfaces.ObjectInfo{
		Key:          key,
		Size:         int64(len(payload)),
		LastModified: time.Now().UTC(),
		ETag:         strings.Trim(aws.ToString(output.ETag), `"`),
		ContentType:  opts.ContentType,
		Metadata:     opts.Metadata,
	}, nil
}

// Get returns a reader for the object. The caller must close it.
func (c *Client) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)

	output, err := c.client.GetObject(opCtx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		cancel()
		return nil, c.classify(ctx, err, key, "get")
	}

	// Wrap to cancel context on close
	return &cancelOnCloseReader{
		ReadCloser: output.Body,
		cancel:     cancel,
	}, nil
}

type cancelOnCloseReader struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelOnCloseReader) Close() error {
	r.cancel()
	return r.ReadCloser.Close()
}

// Head returns object metadata.
func (c *Client) Head(ctx context.Context, key string) (interfaces.ObjectInfo, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()

	output, err := c.client.HeadObject(opCtx, &s3.HeadObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return interfaces.ObjectInfo{}, c.classify(ctx, err, key, "head")
	}

	return interfaces.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(output.ContentLength),
		LastModified: aws.ToTime(output.LastModified),
		ETag:         strings.Trim(aws.ToString(output.ETag), `"`),
		ContentType:  aws.ToString(output.ContentType),
		Metadata:     output.Metadata,
	}, nil
}

// Exists checks if an object exists. Only a definite "not found" maps to
// false; other failures are reported as errors.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.Head(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, interfaces.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// List returns every object under prefix, following continuation tokens.
func (c *Client) List(ctx context.Context, prefix string) ([]interfaces.ObjectInfo, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.cfg.Bucket),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var objects []interfaces.ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(c.client, input)
	for paginator.HasMorePages() {
		opCtx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
		page, err := paginator.NextPage(opCtx)
		cancel()
		if err != nil {
			return nil, c.classify(ctx, err, prefix, "list")
		}
		for _, obj := range page.Contents {
			objects = append(objects, interfaces.ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
				ETag:         strings.Trim(aws.ToString(obj.ETag), `"`),
			})
		}
	}
	return objects, nil
}

// classify maps SDK errors onto the storage error taxonomy.
func (c *Client) classify(ctx context.Context, err error, key, op string) error {
	if IsNotFound(err) {
		return fmt.Errorf("%w: s3://%s/%s", interfaces.ErrNotFound, c.cfg.Bucket, key)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return tferrors.FromContext(ctxErr, "s3 "+op)
	}
	return tferrors.StorageUnavailable(fmt.Errorf("s3 %s: %w", op, err), key).
		WithContext("bucket", c.cfg.Bucket)
}

// IsNotFound reports whether err is an S3 "no such key" response.
func IsNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

// Verify interface compliance
var _ interfaces.ObjectStore = (*Client)(nil)
