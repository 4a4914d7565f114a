package sessionstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

const defaultS3RetryWait = time.Second

// S3Params ...
type S3Params struct {
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the S3 endpoint, for S3 compatible storages.
	Endpoint     string
	UsePathStyle bool

	// Retries is the number of extra attempts after a failed request, on top of
	// the SDK's own retries.
	// Default: 0, a single attempt
	Retries uint
	// RetryWait is the pause between attempts.
	// Default: 1 second
	RetryWait time.Duration
}

// S3Store keeps records as objects in an S3 bucket.
type S3Store struct {
	client    *s3.Client
	uploader  *manager.Uploader
	bucket    string
	prefix    string
	logger    log.Logger
	retries   uint
	retryWait time.Duration
}

// NewS3Store loads the AWS configuration and creates an S3Store.
func NewS3Store(ctx context.Context, params S3Params, logger log.Logger) (*S3Store, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}

	cfg, err := loadAWSCredentials(
		ctx,
		params.Region,
		params.AccessKeyID,
		params.SecretAccessKey,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	return NewS3StoreFromConfig(*cfg, params, logger), nil
}

// NewS3StoreFromConfig creates an S3Store from an existing AWS configuration.
func NewS3StoreFromConfig(cfg aws.Config, params S3Params, logger log.Logger) *S3Store {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if params.Endpoint != "" {
			o.BaseEndpoint = aws.String(params.Endpoint)
		}
		o.UsePathStyle = params.UsePathStyle
	})

	retryWait := params.RetryWait
	if retryWait <= 0 {
		retryWait = defaultS3RetryWait
	}

	return &S3Store{
		client:    client,
		uploader:  manager.NewUploader(client),
		bucket:    params.Bucket,
		prefix:    params.Prefix,
		logger:    logger,
		retries:   params.Retries,
		retryWait: retryWait,
	}
}

// try runs action with the configured retries. A done context stops it before the next attempt.
func (s *S3Store) try(ctx context.Context, action func(attempt uint) (error, bool)) error {
	return retry.Times(s.retries).Wait(s.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		if err := ctx.Err(); err != nil {
			return err, true
		}
		return action(attempt)
	})
}

func (s *S3Store) objectKey(key string) string {
	return path.Join(s.prefix, objectName(key))
}

// Save ...
func (s *S3Store) Save(ctx context.Context, key string, record Record) error {
	data, err := encodeRecord(record)
	if err != nil {
		return err
	}

	objectKey := s.objectKey(key)
	return s.try(ctx, func(attempt uint) (error, bool) {
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Body:          bytes.NewReader(data),
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(objectKey),
			ContentType:   aws.String("application/json"),
			ContentLength: aws.Int64(int64(len(data))),
		})
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("put session record: %w", err), true
			}
			s.logger.Debugf("Put session record %s (attempt %d): %s", objectKey, attempt+1, err)
			return fmt.Errorf("put session record: %w", err), false
		}

		return nil, true
	})
}

// Load ...
func (s *S3Store) Load(ctx context.Context, key string) (Record, error) {
	var record Record
	objectKey := s.objectKey(key)
	err := s.try(ctx, func(attempt uint) (error, bool) {
		result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectKey),
		})
		if err != nil {
			if isNotFound(err) {
				return ErrNotFound, true
			}
			if ctx.Err() != nil {
				return fmt.Errorf("get session record: %w", err), true
			}
			return fmt.Errorf("get session record: %w", err), false
		}
		defer result.Body.Close() //nolint:errcheck

		data, err := io.ReadAll(result.Body)
		if err != nil {
			return fmt.Errorf("read session record: %w", err), false
		}

		record, err = decodeRecord(data)
		if err != nil {
			return err, true
		}
		return nil, true
	})

	return record, err
}

// Delete ...
func (s *S3Store) Delete(ctx context.Context, key string) error {
	objectKey := s.objectKey(key)
	return s.try(ctx, func(attempt uint) (error, bool) {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectKey),
		})
		if err != nil {
			if isNotFound(err) {
				return nil, true
			}
			if ctx.Err() != nil {
				return fmt.Errorf("delete session record: %w", err), true
			}
			return fmt.Errorf("delete session record: %w", err), false
		}
		return nil, true
	})
}

func isNotFound(err error) bool {
	var apiError smithy.APIError
	if errors.As(err, &apiError) {
		switch apiError.(type) {
		case *types.NoSuchKey, *types.NotFound:
			return true
		default:
			return apiError.ErrorCode() == "NoSuchKey" || apiError.ErrorCode() == "NotFound"
		}
	}
	return false
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load default config: %w", err)
	}

	return &cfg, nil
}
