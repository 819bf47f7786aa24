package extract

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type s3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher resolves attachment references to objects in the upload bucket.
type S3Fetcher struct {
	api    s3GetObjectAPI
	bucket string
}

func NewS3Fetcher(api s3GetObjectAPI, bucket string) (*S3Fetcher, error) {
	if api == nil {
		return nil, errors.New("extract: s3 client required")
	}
	if bucket == "" {
		return nil, errors.New("extract: attachment bucket required")
	}
	return &S3Fetcher{api: api, bucket: bucket}, nil
}

// Fetch downloads the object stored under the given key.
func (f *S3Fetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	out, err := f.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		return nil, fmt.Errorf("extract: get object %q: %w", ref, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("extract: read object %q: %w", ref, err)
	}
	return data, nil
}
