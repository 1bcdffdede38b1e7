package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	appconfig "brickshop/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Store struct {
	client  s3API
	bucket  string
	baseURL string
}

func NewS3Store(ctx context.Context, cfg appconfig.StorageConfig) (*S3Store, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.S3Region)}
	if cfg.S3Key != "" && cfg.S3Secret != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3Key, cfg.S3Secret, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	baseURL := strings.TrimRight(cfg.S3BaseURL, "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.S3Bucket, cfg.S3Region)
	}

	return &S3Store{
		client:  s3.NewFromConfig(awsCfg),
		bucket:  cfg.S3Bucket,
		baseURL: baseURL,
	}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, contentType string, data []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("storage: upload to s3: %w", err)
	}
	return s.baseURL + "/" + key, nil
}
