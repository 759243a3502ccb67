package export

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	filePrefix = "poseidon-run-"
	fileSuffix = ".json.gz"
)

// Sink stores an encoded archive under name and returns its location.
type Sink interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// FileName returns the archive name for a run exported at t.
func FileName(runID string, t time.Time) string {
	return fmt.Sprintf("%s%s-%s%s", filePrefix, runID, t.UTC().Format("20060102-150405"), fileSuffix)
}

// FileSink writes archives into a local directory and optionally prunes
// older ones afterwards.
type FileSink struct {
	Dir       string
	Retention RetentionPolicy
}

// Put writes data to Dir/name.
func (s *FileSink) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := os.MkdirAll(s.Dir, 0700); err != nil {
		return "", fmt.Errorf("creating export directory: %w", err)
	}
	p := filepath.Join(s.Dir, name)
	if err := os.WriteFile(p, data, 0600); err != nil {
		return "", fmt.Errorf("writing archive: %w", err)
	}
	if s.Retention != nil {
		if _, err := ApplyRetention(s.Dir, s.Retention); err != nil {
			return p, fmt.Errorf("applying retention: %w", err)
		}
	}
	return p, nil
}

// S3Options configures an S3Sink. Credentials come from the default AWS chain.
type S3Options struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string // optional, for S3-compatible stores such as MinIO
	UsePathStyle bool
}

// S3Sink uploads archives to an S3 bucket.
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Sink creates an S3 sink from opts.
func NewS3Sink(ctx context.Context, opts S3Options) (*S3Sink, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = opts.UsePathStyle
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		// S3-compatible stores often reject the trailing checksum encoding.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})
	return &S3Sink{client: client, bucket: opts.Bucket, prefix: opts.Prefix}, nil
}

// Put uploads data to bucket/prefix/name.
func (s *S3Sink) Put(ctx context.Context, name string, data []byte) (string, error) {
	key := name
	if s.prefix != "" {
		key = path.Join(s.prefix, name)
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/gzip"),
		Metadata:    map[string]string{"format-version": fmt.Sprint(FormatVersion)},
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s to s3://%s: %w", key, s.bucket, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// OpenSink parses target and returns the matching sink. Targets are a plain
// directory, file://dir or s3://bucket/prefix. The bucket and prefix of an
// s3 target override those in defaults.
func OpenSink(ctx context.Context, target string, defaults S3Options, retention RetentionPolicy) (Sink, error) {
	if target == "" {
		if defaults.Bucket == "" {
			return nil, fmt.Errorf("export target required")
		}
		return NewS3Sink(ctx, defaults)
	}
	if !strings.Contains(target, "://") {
		return &FileSink{Dir: target, Retention: retention}, nil
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid export target %q: %w", target, err)
	}
	switch u.Scheme {
	case "file":
		dir := u.Path
		if u.Host != "" {
			dir = filepath.Join(u.Host, u.Path)
		}
		if dir == "" {
			return nil, fmt.Errorf("file target %q has no directory", target)
		}
		return &FileSink{Dir: dir, Retention: retention}, nil
	case "s3":
		opts := defaults
		opts.Bucket = u.Host
		opts.Prefix = strings.Trim(u.Path, "/")
		return NewS3Sink(ctx, opts)
	default:
		return nil, fmt.Errorf("unsupported export scheme %q", u.Scheme)
	}
}
