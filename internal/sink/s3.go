package sink

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/xaviermiles/web-sentiment-analysis/internal/models"
	"github.com/xaviermiles/web-sentiment-analysis/internal/processing"
)

// S3API is the part of the S3 client the sink uses.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// S3Config selects the bucket and upload behaviour.
type S3Config struct {
	Bucket           string
	Prefix           string
	Region           string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	EnableEncryption bool
	VerifyUpload     bool
}

// NewS3Client builds an S3 client. A custom endpoint switches to path-style
// addressing for MinIO and similar services.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	if cfg.Endpoint == "" {
		return s3.NewFromConfig(awsCfg), nil
	}
	endpoint := cfg.Endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "http://" + endpoint
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	}), nil
}

// S3 stores each feed as one CSV object <prefix>/<id>.gkg.csv, uploaded with
// a single PutObject so an object is either complete or absent.
type S3 struct {
	client S3API
	cfg    S3Config
	layout processing.Layout
	log    *slog.Logger
}

// NewS3 returns an S3 sink writing through client.
func NewS3(client S3API, cfg S3Config, layout processing.Layout, logger *slog.Logger) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: S3 bucket is empty", ErrUnsupported)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &S3{client: client, cfg: cfg, layout: layout, log: logger}, nil
}

func (s *S3) Name() string { return "s3" }

// Key is the object key for a feed id.
func (s *S3) Key(feedID string) string {
	name := ObjectName(models.FeedReference{ID: feedID})
	if s.cfg.Prefix == "" {
		return name
	}
	return path.Join(s.cfg.Prefix, name)
}

func (s *S3) AlreadyHas(ctx context.Context, feedID string) (bool, error) {
	_, err := s.head(ctx, s.Key(feedID))
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("head %s: %w", feedID, err)
}

func (s *S3) Write(ctx context.Context, batch models.Batch) error {
	var buf bytes.Buffer
	if err := encodeCSV(&buf, s.layout, batch); err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrWrite, batch.Feed.ID, err)
	}
	data := buf.Bytes()
	sum := md5.Sum(data)
	contentMD5 := base64.StdEncoding.EncodeToString(sum[:])
	key := s.Key(batch.Feed.ID)

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentMD5:  aws.String(contentMD5),
		ContentType: aws.String("text/csv"),
	}
	if s.cfg.EnableEncryption {
		input.ServerSideEncryption = types.ServerSideEncryptionAes256
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("%w: put %s: %w", ErrWrite, key, err)
	}

	if s.cfg.VerifyUpload {
		if err := s.verify(ctx, key, int64(len(data))); err != nil {
			return fmt.Errorf("%w: %w", ErrWrite, err)
		}
	}
	s.log.Debug("uploaded csv", slog.String("key", key), slog.Int("rows", len(batch.Rows)), slog.Int("bytes", len(data)))
	return nil
}

func (s *S3) verify(ctx context.Context, key string, expectedSize int64) error {
	out, err := s.head(ctx, key)
	if err != nil {
		return fmt.Errorf("verify %s: %w", key, err)
	}
	if out.ContentLength == nil || *out.ContentLength != expectedSize {
		got := int64(-1)
		if out.ContentLength != nil {
			got = *out.ContentLength
		}
		return fmt.Errorf("verify %s: size mismatch: expected %d bytes, got %d bytes", key, expectedSize, got)
	}
	return nil
}

func (s *S3) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	return s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
}

func (s *S3) Ingested(ctx context.Context) (map[string]struct{}, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(s.cfg.Bucket)}
	if s.cfg.Prefix != "" {
		input.Prefix = aws.String(s.cfg.Prefix + "/")
	}

	out := make(map[string]struct{})
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list bucket %s: %w", s.cfg.Bucket, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			if id, ok := feedIDFromName(*obj.Key); ok {
				out[id] = struct{}{}
			}
		}
	}
	return out, nil
}

func (s *S3) Close() error { return nil }

func isNotFound(err error) bool {
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
