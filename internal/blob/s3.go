package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/codebymv/Itemize-sub008/pkg/domain"
)

// S3Store keeps objects in a single bucket; references are "s3://bucket/key".
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Store(ctx context.Context, bucket, prefix string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("blob: load aws config: %w", err)
	}
	return &S3Store{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix}, nil
}

func (s *S3Store) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *S3Store) Put(ctx context.Context, key string, r io.Reader) (PutResult, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return PutResult{}, err
	}
	k := s.key(key)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(k),
		Body:   bytes.NewReader(b),
	})
	if err != nil {
		return PutResult{}, fmt.Errorf("blob: put s3://%s/%s: %w", s.bucket, k, err)
	}
	return PutResult{
		Ref:      fmt.Sprintf("s3://%s/%s", s.bucket, k),
		Location: domain.LocationRemote,
		SHA256:   digest(b),
		Size:     int64(len(b)),
	}, nil
}

func (s *S3Store) Open(ctx context.Context, loc domain.LocationKind, ref string) (io.ReadCloser, error) {
	if loc != domain.LocationRemote {
		return nil, fmt.Errorf("blob: s3 store cannot open %s reference", loc)
	}
	bucket, key, err := ParseRemoteRef(ref)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

func (s *S3Store) Remove(ctx context.Context, loc domain.LocationKind, ref string) error {
	if loc != domain.LocationRemote {
		return fmt.Errorf("blob: s3 store cannot remove %s reference", loc)
	}
	bucket, key, err := ParseRemoteRef(ref)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	return err
}

var _ Store = (*S3Store)(nil)
