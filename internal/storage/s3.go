// Package storage uploads attachments to an S3 compatible bucket
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/spf13/viper"
)

// ErrDisabled is returned by the store used when storage.type is none
var ErrDisabled = errors.New("object storage is not configured")

// ObjectStore is the bucket attachments are written to
type ObjectStore interface {
	// Put stores body under key and returns the URL it is reachable at
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

type S3Store struct {
	C         *s3.Client
	Bucket    *string
	uploader  *manager.Uploader
	publicURL string
}

// New returns the store selected by storage.type
func New(ctx context.Context) (ObjectStore, error) {
	switch t := viper.GetString("storage.type"); t {
	case "s3", "r2":
		return NewS3(ctx, t == "r2")
	case "none", "":
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", t)
	}
}

// NewS3 connects to the configured bucket. Cloudflare R2 speaks the S3 API
// from an account specific endpoint.
func NewS3(ctx context.Context, r2 bool) (*S3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			viper.GetString("storage.access_key_id"),
			viper.GetString("storage.secret_access_key"),
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config, %w", err)
	}

	bucket := aws.String(viper.GetString("storage.bucket"))

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if r2 {
			o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", viper.GetString("storage.account_id")))
			o.Region = "auto"
			return
		}

		o.Region = viper.GetString("storage.region")
	})

	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: bucket,
	})
	if err != nil {
		var apiErr smithy.APIError

		if errors.As(err, &apiErr) {
			if apiErr.ErrorCode() == "NotFound" {
				return nil, fmt.Errorf("bucket '%s' does not exist", *bucket)
			}
		}

		return nil, fmt.Errorf("failed to check if bucket exists, %w", err)
	}

	return &S3Store{
		C:      client,
		Bucket: bucket,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.Concurrency = 3
			u.PartSize = 6 << 20
		}),
		publicURL: strings.TrimRight(viper.GetString("storage.public_url"), "/"),
	}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        s.Bucket,
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String("private, max-age=86400"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s, %w", key, err)
	}

	if s.publicURL != "" {
		return s.publicURL + "/" + key, nil
	}

	return out.Location, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.C.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: s.Bucket,
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s, %w", key, err)
	}

	return nil
}

// Disabled rejects every upload
type Disabled struct{}

func (Disabled) Put(context.Context, string, io.Reader, int64, string) (string, error) {
	return "", ErrDisabled
}

func (Disabled) Delete(context.Context, string) error {
	return nil
}
