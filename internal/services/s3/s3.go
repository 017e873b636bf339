// Package s3service stores catalog snapshots and prospect files in S3.
package s3service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"fiscal-eligibility-engine/internal/models"
	"fiscal-eligibility-engine/internal/services/catalog"
	"fiscal-eligibility-engine/internal/utils"
)

// Client is the subset of the S3 API used by the service.
type Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Service handles S3 operations
type Service struct {
	client     Client
	presigner  *s3.PresignClient
	bucketName string
	logger     *zap.Logger
}

// PresignedURLResult contains the presigned URL details
type PresignedURLResult struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewService creates an S3 service for bucket using the default AWS credential chain.
func NewService(ctx context.Context, region, bucket string) (*Service, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	svc := NewWithClient(client, bucket)
	svc.presigner = s3.NewPresignClient(client)
	return svc, nil
}

// NewWithClient creates a service on an existing client. Presigning is
// unavailable on services built this way.
func NewWithClient(client Client, bucket string) *Service {
	return &Service{
		client:     client,
		bucketName: bucket,
		logger:     utils.Named("s3"),
	}
}

// Bucket returns the bucket the service works on.
func (s *Service) Bucket() string {
	return s.bucketName
}

// GeneratePresignedUploadURL creates a presigned URL for uploading files
func (s *Service) GeneratePresignedUploadURL(ctx context.Context, key string, contentType string, expiryMinutes int) (*PresignedURLResult, error) {
	if s.presigner == nil {
		return nil, errors.New("presigning not configured")
	}
	if expiryMinutes <= 0 {
		expiryMinutes = 15 // Default 15 minutes
	}

	expiry := time.Duration(expiryMinutes) * time.Minute

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}

	presignedReq, err := s.presigner.PresignPutObject(ctx, input, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		s.logger.Error("Failed to generate presigned URL",
			zap.String("bucket", s.bucketName),
			zap.String("key", key),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	s.logger.Info("Generated presigned upload URL",
		zap.String("bucket", s.bucketName),
		zap.String("key", key),
		zap.Int("expiry_minutes", expiryMinutes),
	)

	return &PresignedURLResult{
		URL:       presignedReq.URL,
		Key:       key,
		ExpiresAt: time.Now().Add(expiry),
	}, nil
}

// DownloadFile downloads a file from S3
func (s *Service) DownloadFile(ctx context.Context, key string) ([]byte, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	}

	result, err := s.client.GetObject(ctx, input)
	if err != nil {
		s.logger.Error("Failed to download file from S3",
			zap.String("bucket", s.bucketName),
			zap.String("key", key),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file content: %w", err)
	}

	s.logger.Debug("Downloaded file from S3",
		zap.String("bucket", s.bucketName),
		zap.String("key", key),
		zap.Int("size", len(data)),
	)

	return data, nil
}

// UploadFile uploads a file to S3
func (s *Service) UploadFile(ctx context.Context, key string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}

	_, err := s.client.PutObject(ctx, input)
	if err != nil {
		s.logger.Error("Failed to upload file to S3",
			zap.String("bucket", s.bucketName),
			zap.String("key", key),
			zap.Error(err),
		)
		return fmt.Errorf("failed to upload file: %w", err)
	}

	s.logger.Info("Uploaded file to S3",
		zap.String("bucket", s.bucketName),
		zap.String("key", key),
		zap.Int("size", len(data)),
	)

	return nil
}

// FileExists checks if a file exists in S3
func (s *Service) FileExists(ctx context.Context, key string) (bool, error) {
	input := &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	}

	_, err := s.client.HeadObject(ctx, input)
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file: %w", err)
	}

	return true, nil
}

// CatalogSource returns a catalog.Source reading the snapshot document stored at key.
func (s *Service) CatalogSource(key string) catalog.Source {
	return catalog.SourceFunc(func(ctx context.Context) (*catalog.Snapshot, error) {
		data, err := s.DownloadFile(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrCatalogUnavailable, err)
		}
		return catalog.Decode(bytes.NewReader(data))
	})
}

// PublishCatalog validates doc and writes it to key and to its versioned key.
// Published versions are immutable: republishing a version with the same
// content only moves key, different content is rejected.
func (s *Service) PublishCatalog(ctx context.Context, key string, doc *catalog.Document) error {
	if _, err := doc.Snapshot(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := doc.Encode(&buf); err != nil {
		return err
	}

	versioned := VersionedKey(key, doc.Version)
	exists, err := s.FileExists(ctx, versioned)
	if err != nil {
		return err
	}
	if exists {
		published, err := s.DownloadFile(ctx, versioned)
		if err != nil {
			return err
		}
		if !bytes.Equal(published, buf.Bytes()) {
			return fmt.Errorf("%w: version %s is already published with different content", models.ErrInvalidCatalog, doc.Version)
		}
	} else if err := s.UploadFile(ctx, versioned, buf.Bytes(), "application/json"); err != nil {
		return err
	}
	return s.UploadFile(ctx, key, buf.Bytes(), "application/json")
}

// VersionedKey derives the archive key of a catalog version, e.g.
// "catalog/current.json" + "2025.10" -> "catalog/versions/2025.10.json".
func VersionedKey(key, version string) string {
	dir := key[:strings.LastIndex(key, "/")+1]
	return dir + "versions/" + version + ".json"
}
