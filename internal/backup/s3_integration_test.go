package backup_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GreedyKomodoDragon/backup-manager/internal/backup"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/juju/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/minio"
)

const (
	integrationTestBucket  = "backup-manager-test"
	minioImage             = "minio/minio:RELEASE.2024-01-16T16-07-38Z"
	minioUsername          = "minioadmin"
	minioPassword          = "minioadmin"
	skipIntegrationTestMsg = "Skipping integration test in short mode"
	minioTerminateMsg      = "failed to terminate MinIO container: %s"
	httpPrefix             = "http://"
	httpsPrefix            = "https://"
)

// setupMinIO starts a MinIO container with an empty test bucket and returns a client for it
func setupMinIO(t *testing.T) (context.Context, *s3.Client) {
	if testing.Short() {
		t.Skip(skipIntegrationTestMsg)
	}

	ctx := context.Background()

	minioContainer, err := minio.Run(ctx, minioImage,
		minio.WithUsername(minioUsername),
		minio.WithPassword(minioPassword),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(minioContainer); err != nil {
			t.Logf(minioTerminateMsg, err)
		}
	})

	endpoint, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err)

	// Format endpoint with http:// protocol
	if !strings.HasPrefix(endpoint, httpPrefix) && !strings.HasPrefix(endpoint, httpsPrefix) {
		endpoint = httpPrefix + endpoint
	}

	client, err := backup.NewS3Client(ctx, backup.S3Config{
		Endpoint:        endpoint,
		Region:          "us-east-1",
		AccessKeyID:     minioUsername,
		SecretAccessKey: minioPassword,
	})
	require.NoError(t, err)

	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(integrationTestBucket),
	})
	require.NoError(t, err)

	return ctx, client
}

func putObject(ctx context.Context, t *testing.T, client *s3.Client, key, content string) {
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(integrationTestBucket),
		Key:    aws.String(key),
		Body:   strings.NewReader(content),
	})
	require.NoError(t, err)
}

func TestS3StoreIntegration(t *testing.T) {
	ctx, client := setupMinIO(t)

	logger, logs := newTestLogger()
	store := backup.NewS3Store(client, clock.WallClock, logger)

	t.Run("BucketExists", func(t *testing.T) {
		exists, err := store.BucketExists(ctx, integrationTestBucket)
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = store.BucketExists(ctx, "no-such-bucket")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("UploadMultipart_MissingFile", func(t *testing.T) {
		err := store.UploadMultipart(ctx, filepath.Join(t.TempDir(), "missing.zip"), integrationTestBucket, "missing.zip", nil)
		require.ErrorIs(t, err, backup.ErrFileNotFound)
	})

	t.Run("UploadMultipart_MissingBucket", func(t *testing.T) {
		file := writeFile(t, t.TempDir(), "backup.zip", "data")

		err := store.UploadMultipart(ctx, file, "no-such-bucket", "backup.zip", nil)
		require.ErrorIs(t, err, backup.ErrBucketNotFound)
	})

	t.Run("UploadMultipart_LargeFile", func(t *testing.T) {
		// larger than the default 5 MiB part size so the upload is split
		content := make([]byte, 12*1024*1024+3)
		rand.New(rand.NewSource(7)).Read(content)
		file := writeFile(t, t.TempDir(), "2024-06-30-02-15.zip", string(content))

		var reported []int
		err := store.UploadMultipart(ctx, file, integrationTestBucket, "2024-06-30-02-15.zip", func(percent int) {
			reported = append(reported, percent)
		})
		require.NoError(t, err)

		require.NotEmpty(t, reported)
		assert.Equal(t, 100, reported[len(reported)-1])
		for i := 1; i < len(reported); i++ {
			assert.GreaterOrEqual(t, reported[i], reported[i-1])
		}

		resp, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(integrationTestBucket),
			Key:    aws.String("2024-06-30-02-15.zip"),
		})
		require.NoError(t, err)
		defer resp.Body.Close()

		uploaded, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(content, uploaded))
		assert.Equal(t, "backup-manager", resp.Metadata["uploaded-by"])
		assert.Contains(t, resp.Metadata, "timestamp")

		assert.NotEmpty(t, linesContaining(logs, "Backup uploaded"))
	})

	t.Run("ListObjects_MissingBucket", func(t *testing.T) {
		_, err := store.ListObjects(ctx, "no-such-bucket")
		require.ErrorIs(t, err, backup.ErrBucketNotFound)
	})

	t.Run("DeleteObject", func(t *testing.T) {
		putObject(ctx, t, client, "delete-me.zip", "bye")

		require.NoError(t, store.DeleteObject(ctx, integrationTestBucket, "delete-me.zip"))

		objects, err := store.ListObjects(ctx, integrationTestBucket)
		require.NoError(t, err)
		for _, obj := range objects {
			assert.NotEqual(t, "delete-me.zip", obj.Key)
		}

		err = store.DeleteObject(ctx, "no-such-bucket", "delete-me.zip")
		require.ErrorIs(t, err, backup.ErrBucketNotFound)
	})
}

func TestS3StoreListObjectsReturnsEveryPage(t *testing.T) {
	ctx, client := setupMinIO(t)

	logger, _ := newTestLogger()
	store := backup.NewS3Store(client, clock.WallClock, logger)

	// ListObjectsV2 returns at most 1000 keys per page
	const total = 1005
	for i := 0; i < total; i++ {
		putObject(ctx, t, client, fmt.Sprintf("backups/%04d.zip", i), "x")
	}

	objects, err := store.ListObjects(ctx, integrationTestBucket)
	require.NoError(t, err)
	assert.Len(t, objects, total)

	for _, obj := range objects {
		assert.False(t, obj.LastModified.IsZero())
		assert.Equal(t, int64(1), obj.Size)
	}
}

func TestRetentionEnforcerWithMinIO(t *testing.T) {
	ctx, client := setupMinIO(t)

	logger, _ := newTestLogger()
	store := backup.NewS3Store(client, clock.WallClock, logger)
	enforcer := backup.NewRetentionEnforcer(store, logger)

	putObject(ctx, t, client, "2024-06-01-02-15.zip", "old")
	putObject(ctx, t, client, "2024-06-02-02-15.zip", "old")

	// Objects were just written, so nothing is a week old yet
	deleted, err := enforcer.Enforce(ctx, integrationTestBucket, 7, time.Now())
	require.NoError(t, err)
	assert.Zero(t, deleted)

	// Eight days later both are past the window
	deleted, err = enforcer.Enforce(ctx, integrationTestBucket, 7, time.Now().Add(8*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	objects, err := store.ListObjects(ctx, integrationTestBucket)
	require.NoError(t, err)
	assert.Empty(t, objects)

	_, err = enforcer.Enforce(ctx, "no-such-bucket", 7, time.Now())
	require.ErrorIs(t, err, backup.ErrBucketNotFound)
}

func TestRunnerWithMinIO(t *testing.T) {
	ctx, client := setupMinIO(t)

	f := newRunnerFixture(t)
	logger, logs := newTestLogger()
	store := backup.NewS3Store(client, clock.WallClock, logger)

	startedAt := time.Now()
	result := backup.NewRunner(store, clock.WallClock, logger, f.options()).Run(ctx, startedAt)
	require.Empty(t, result.Errors)

	objects, err := store.ListObjects(ctx, integrationTestBucket)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, startedAt.Format(backup.TimestampLayout)+".zip", objects[0].Key)
	assert.Equal(t, filepath.Base(result.ArchivePath), objects[0].Key)

	assert.NotEmpty(t, linesContaining(logs, "Upload status of backup: 100%"))
}
