package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dustin/go-humanize"
	"github.com/juju/clock"
)

// S3Config holds the connection settings for an S3-compatible bucket provider
type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Client creates a client for the configured provider using the static key pair.
// A custom endpoint (Linode, MinIO and other S3-compatible services) switches to path-style addressing.
func NewS3Client(ctx context.Context, s3Config S3Config) (*s3.Client, error) {
	if s3Config.AccessKeyID == "" || s3Config.SecretAccessKey == "" {
		return nil, errors.New("S3 access key id and secret access key are required")
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(s3Config.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s3Config.AccessKeyID,
			s3Config.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 client config for region %s: %w", s3Config.Region, err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if s3Config.Endpoint == "" {
			return
		}
		o.BaseEndpoint = aws.String(s3Config.Endpoint)
		o.UsePathStyle = true
	}), nil
}

// uploadPartSize returns the part size that keeps an upload of size bytes within the
// provider's part limit. The progress wrapper hides the file size from the uploader.
func uploadPartSize(size int64) int64 {
	return max(manager.DefaultUploadPartSize, size/int64(manager.MaxUploadParts)+1)
}

// S3Store implements ObjectStore for AWS S3 or S3-compatible storage
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	clock    clock.Clock
	logger   *slog.Logger
}

// NewS3Store creates a new S3Store on top of an existing client
func NewS3Store(client *s3.Client, clk clock.Clock, logger *slog.Logger) *S3Store {
	if clk == nil {
		clk = clock.WallClock
	}
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		clock:    clk,
		logger:   logger,
	}
}

// BucketExists implements ObjectStore.BucketExists
func (s *S3Store) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err == nil {
		return true, nil
	}
	if isBucketMissing(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check bucket %s: %w", bucket, err)
}

// UploadMultipart implements ObjectStore.UploadMultipart
func (s *S3Store) UploadMultipart(ctx context.Context, localPath, bucket, key string, onProgress ProgressFunc) error {
	info, err := os.Stat(localPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, localPath)
		}
		return fmt.Errorf("failed to stat %s: %w", localPath, err)
	}

	if err := s.requireBucket(ctx, bucket); err != nil {
		return err
	}

	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer file.Close()

	s.logger.Info("Uploading backup",
		"file", localPath,
		"bucket", bucket,
		"key", key,
		"size", humanize.Bytes(uint64(info.Size())),
	)

	output, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        newProgressReader(file, info.Size(), onProgress),
		ContentType: aws.String("application/zip"),
		Metadata: map[string]string{
			"uploaded-by": "backup-manager",
			"timestamp":   strconv.FormatInt(s.clock.Now().Unix(), 10),
			"source-name": filepath.Base(localPath),
		},
	}, func(u *manager.Uploader) {
		u.PartSize = uploadPartSize(info.Size())
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to bucket %s: %w", key, bucket, err)
	}

	s.logger.Info("Backup uploaded", "location", output.Location, "key", key)
	return nil
}

// ListObjects implements ObjectStore.ListObjects
func (s *S3Store) ListObjects(ctx context.Context, bucket string) ([]RemoteObject, error) {
	if err := s.requireBucket(ctx, bucket); err != nil {
		return nil, err
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
	}

	var objects []RemoteObject
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects in bucket %s: %w", bucket, err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}

			object := RemoteObject{
				Key:  *obj.Key,
				Size: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				object.LastModified = *obj.LastModified
			}
			objects = append(objects, object)
		}
	}

	return objects, nil
}

// DeleteObject implements ObjectStore.DeleteObject
func (s *S3Store) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := s.requireBucket(ctx, bucket); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}

	return nil
}

func (s *S3Store) requireBucket(ctx context.Context, bucket string) error {
	exists, err := s.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
	}
	return nil
}

// isBucketMissing recognises the not found responses HeadBucket gives across S3-compatible providers
func isBucketMissing(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}
