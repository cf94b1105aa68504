package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/globalchat/backend/internal/config"
)

// ProfilePicturePrefix is the key prefix of every uploaded profile picture.
const ProfilePicturePrefix = "profilePictures/"

// ============================================================================
// Admin client (minio-go) - bucket bootstrap and readiness checks
// ============================================================================

// Client provides bucket administration on S3-compatible storage.
type Client struct {
	client *minio.Client
	bucket string
}

// New creates a new admin client from the server configuration.
func New(cfg *config.Config) (*Client, error) {
	// minio-go expects host:port
	endpoint := cfg.S3Endpoint
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Client{
		client: client,
		bucket: cfg.S3Bucket,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist and makes the profile
// picture prefix publicly readable, since clients load pictures by URL.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		if err := c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", c.bucket, err)
		}
	}

	if err := c.client.SetBucketPolicy(ctx, c.bucket, publicReadPolicy(c.bucket)); err != nil {
		return fmt.Errorf("failed to set bucket policy on %s: %w", c.bucket, err)
	}

	return nil
}

func publicReadPolicy(bucket string) string {
	return fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/%s*"]}]}`,
		bucket, ProfilePicturePrefix)
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// Ping checks if the storage is accessible by verifying bucket exists.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.client.BucketExists(ctx, c.bucket)
	return err
}

// ============================================================================
// S3Storage (aws-sdk-go-v2) - profile picture uploads
// ============================================================================

// putObjectAPI is the subset of *s3.Client used for uploads.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Storage uploads objects to S3-compatible storage (AWS S3 or MinIO).
type S3Storage struct {
	client    putObjectAPI
	bucket    string
	publicURL func(key string) string
	now       func() time.Time
}

// NewS3Storage creates a new S3Storage instance
func NewS3Storage(cfg *config.Config) *S3Storage {
	opts := s3.Options{
		Region:       cfg.S3Region,
		Credentials:  awscreds.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		UsePathStyle: cfg.S3UsePathStyle, // Required for MinIO
	}

	// Custom endpoint for MinIO/non-AWS S3
	if cfg.S3Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.S3Endpoint)
	}

	return &S3Storage{
		client:    s3.New(opts),
		bucket:    cfg.S3Bucket,
		publicURL: cfg.PublicObjectURL,
		now:       time.Now,
	}
}

// ProfilePictureKey builds the object key for a user's picture. The
// timestamp keeps keys ordered, the random part keeps them unique.
func ProfilePictureKey(now time.Time, filename string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(filename, "\\", "/"))))
	if len(ext) > 8 {
		ext = ""
	}
	return fmt.Sprintf("%s%d_%s%s", ProfilePicturePrefix, now.UnixMilli(), uuid.NewString(), ext)
}

// UploadProfilePicture stores the image and returns its public URL.
func (s *S3Storage) UploadProfilePicture(ctx context.Context, filename, contentType string, body io.Reader, size int64) (string, error) {
	key := ProfilePictureKey(s.now(), filename)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	return s.publicURL(key), nil
}
