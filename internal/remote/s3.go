package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"marketlab/internal/util"
)

// Compile-time interface check.
var _ ObjectStore = (*S3Store)(nil)

// S3Config holds the configuration for S3Store.
type S3Config struct {
	Endpoint        string // S3-compatible endpoint, e.g. https://files.massive.com
	Region          string
	AccessKey       string
	SecretKey       string
	RateLimitPerMin int // 0 disables throttling
	MaxRetries      int // retries for transient failures, per call
	RetryBaseDelay  time.Duration
}

// S3Store implements ObjectStore for S3 and S3-compatible flat-file
// providers. Transient failures are retried with exponential backoff; not
// found and forbidden responses are outcomes, never retried.
type S3Store struct {
	client    *s3.Client
	limiter   *util.RateLimiter
	attempts  int
	baseDelay time.Duration
	log       *slog.Logger
}

// NewS3Store builds a path-style, signature-v4 client with static
// credentials.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
		// Retries are handled here so a single policy applies.
		awsconfig.WithRetryMaxAttempts(1),
	)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	baseDelay := cfg.RetryBaseDelay
	if baseDelay == 0 {
		baseDelay = 500 * time.Millisecond
	}

	return &S3Store{
		client:    client,
		limiter:   util.NewRateLimiter(cfg.RateLimitPerMin),
		attempts:  cfg.MaxRetries + 1,
		baseDelay: baseDelay,
		log:       slog.Default().With("component", "s3"),
	}, nil
}

// Exists lists at most one key under the exact key prefix and checks for an
// exact match. Listing is used instead of HeadObject because some
// flat-file providers only grant list and get permissions.
func (s *S3Store) Exists(ctx context.Context, bucket, key string) (Outcome, error) {
	outcome := NotFound
	err := s.call(ctx, func() error {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:  aws.String(bucket),
			Prefix:  aws.String(key),
			MaxKeys: aws.Int32(1),
		})
		if err != nil {
			if o, code, ok := classify(err); ok {
				s.log.Debug("list refused", "key", key, "code", code)
				outcome = o
				return nil
			}
			return err
		}
		outcome = NotFound
		for _, obj := range out.Contents {
			if aws.ToString(obj.Key) == key {
				outcome = Found
				break
			}
		}
		return nil
	})
	if err != nil {
		return NotFound, fmt.Errorf("listing s3://%s/%s: %w", bucket, key, err)
	}
	return outcome, nil
}

// Fetch opens the object body for streaming. A missing or forbidden object
// (for example, one that vanished after Exists succeeded) is reported as an
// outcome.
func (s *S3Store) Fetch(ctx context.Context, bucket, key string) (FetchResult, error) {
	var res FetchResult
	err := s.call(ctx, func() error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			if o, code, ok := classify(err); ok {
				res = FetchResult{Outcome: o, Code: code}
				return nil
			}
			return err
		}
		res = FetchResult{Outcome: Found, Body: out.Body}
		return nil
	})
	if err != nil {
		return FetchResult{}, fmt.Errorf("getting s3://%s/%s: %w", bucket, key, err)
	}
	return res, nil
}

// call runs op under the rate limiter with retries. Context errors are
// never retried.
func (s *S3Store) call(ctx context.Context, op func() error) error {
	return util.Retry(ctx, s.attempts, s.baseDelay, func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		err := op()
		if err != nil && ctx.Err() != nil {
			return util.Permanent(err)
		}
		return err
	})
}

// classify recognises the error codes and HTTP statuses that mean "not
// available" rather than "failed".
func classify(err error) (Outcome, string, bool) {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if o, ok := ClassifyCode(apiErr.ErrorCode()); ok {
			return o, apiErr.ErrorCode(), true
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch status := respErr.HTTPStatusCode(); status {
		case http.StatusNotFound:
			return NotFound, strconv.Itoa(status), true
		case http.StatusForbidden:
			return AccessDenied, strconv.Itoa(status), true
		}
	}
	return NotFound, "", false
}
