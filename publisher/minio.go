package publisher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioOptions locates the bucket that holds artifacts.
type MinioOptions struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// MinioStore keeps artifacts as objects in an S3-compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewMinioStore connects and makes sure the bucket exists.
func NewMinioStore(ctx context.Context, opts MinioOptions, logger *slog.Logger) (*MinioStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	s := &MinioStore{client: client, bucket: opts.Bucket, logger: logger}
	if err := s.ensureBucket(ctx, opts.Region); err != nil {
		return nil, err
	}
	logger.Info("artifact storage initialized", "type", "minio", "endpoint", opts.Endpoint, "bucket", opts.Bucket)
	return s, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("bucket created", "bucket", s.bucket)
	return nil
}

// Put refuses to overwrite. The existence check and the upload are two
// requests, so two writers racing on one name can both succeed; names are
// only produced by the single-flight pipeline.
func (s *MinioStore) Put(ctx context.Context, name string, data []byte) (Artifact, error) {
	if !ValidName(name) {
		return Artifact{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	exists, err := s.Exists(ctx, name)
	if err != nil {
		return Artifact{}, err
	}
	if exists {
		return Artifact{}, fmt.Errorf("%w: %s", ErrExists, name)
	}
	info, err := s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/pdf"})
	if err != nil {
		return Artifact{}, fmt.Errorf("put object %s: %w", name, err)
	}
	return Artifact{Name: name, Size: info.Size, Location: s.Location(name)}, nil
}

func (s *MinioStore) Get(ctx context.Context, name string) ([]byte, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapErr(name, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapErr(name, err)
	}
	return data, nil
}

func (s *MinioStore) Exists(ctx context.Context, name string) (bool, error) {
	if !ValidName(name) {
		return false, nil
	}
	_, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{})
	if err != nil {
		if errors.Is(s.mapErr(name, err), ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *MinioStore) mapErr(name string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return err
}

func (s *MinioStore) Location(name string) string { return fmt.Sprintf("s3://%s/%s", s.bucket, name) }
