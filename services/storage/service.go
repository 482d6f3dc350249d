package storage

import (
	"context"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailreader/interfaces"
	"github.com/customeros/mailreader/internal/tracing"
	"github.com/customeros/mailreader/services/storage/aws_client"
)

// ObjectStorageService implements StorageService on one bucket.
type ObjectStorageService struct {
	client     aws_client.S3Client
	bucketName string
	keyPrefix  string
}

type StorageConfig struct {
	BucketName string
	// KeyPrefix is prepended to every object key, e.g. "attachments/"
	KeyPrefix string
}

func NewStorageService(client aws_client.S3Client, config StorageConfig) interfaces.StorageService {
	return &ObjectStorageService{
		client:     client,
		bucketName: config.BucketName,
		keyPrefix:  config.KeyPrefix,
	}
}

func (s *ObjectStorageService) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectStorageService.Upload")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("object.size", len(data))

	return s.client.Upload(ctx, s.bucketName, s.keyPrefix+key, data, contentType)
}

func (s *ObjectStorageService) Download(ctx context.Context, key string) ([]byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectStorageService.Download")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	return s.client.Download(ctx, s.bucketName, s.keyPrefix+key)
}

func (s *ObjectStorageService) Delete(ctx context.Context, key string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectStorageService.Delete")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	return s.client.Delete(ctx, s.bucketName, s.keyPrefix+key)
}
