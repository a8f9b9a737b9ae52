// Package source opens template and CSV locations: local paths and s3://bucket/key objects.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

const s3Scheme = "s3://"

// Sentinel errors for source operations.
var (
	ErrNotFound     = errors.New("source: not found")
	ErrAccessDenied = errors.New("source: access denied")
	ErrInvalidURI   = errors.New("source: invalid s3 URI")
	ErrNoS3         = errors.New("source: s3 locations need an AWS region")
	ErrReadFailed   = errors.New("source: read failed")
)

// S3API is the subset of the S3 client used for reading objects.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Opener resolves locations to readers. The S3 client is built on first
// successful use; a failed build is retried on the next s3:// location.
type Opener struct {
	newS3 func(ctx context.Context) (S3API, error)

	mu     sync.Mutex
	client S3API
}

// NewOpener creates an opener. newS3 may be nil, in which case s3:// locations fail with ErrNoS3.
func NewOpener(newS3 func(ctx context.Context) (S3API, error)) *Opener {
	return &Opener{newS3: newS3}
}

// IsS3 reports whether location is an s3:// URI.
func IsS3(location string) bool {
	return strings.HasPrefix(location, s3Scheme)
}

// Open returns a reader for location. The caller closes it.
func (o *Opener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if !IsS3(location) {
		f, err := os.Open(location)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
			}
			return nil, err
		}
		return f, nil
	}

	bucket, key, err := ParseS3URI(location)
	if err != nil {
		return nil, err
	}

	client, err := o.s3Client(ctx)
	if err != nil {
		return nil, err
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, wrapS3Error(err, location)
	}
	return out.Body, nil
}

// ReadAll opens location and reads it fully.
func (o *Opener) ReadAll(ctx context.Context, location string) ([]byte, error) {
	rc, err := o.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrReadFailed, location, err)
	}
	return data, nil
}

func (o *Opener) s3Client(ctx context.Context) (S3API, error) {
	if o.newS3 == nil {
		return nil, ErrNoS3
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.client != nil {
		return o.client, nil
	}
	client, err := o.newS3(ctx)
	if err != nil {
		return nil, err
	}
	o.client = client
	return client, nil
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(location string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(location, s3Scheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURI, location)
	}
	return bucket, key, nil
}

// wrapS3Error maps S3 failures onto the package sentinels.
func wrapS3Error(err error, location string) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return fmt.Errorf("%w: %s: %v", ErrNotFound, location, err)
		case "AccessDenied", "Forbidden":
			return fmt.Errorf("%w: %s: %v", ErrAccessDenied, location, err)
		}
	}

	var notFound *types.NoSuchKey
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s: %v", ErrNotFound, location, err)
	}

	return fmt.Errorf("%w: %s: %w", ErrReadFailed, location, err)
}
