package storage

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"

	"github.com/customeros/mailreader/config"
	"github.com/customeros/mailreader/interfaces"
	"github.com/customeros/mailreader/services/storage/aws_client"
)

const attachmentKeyPrefix = "attachments/"

// NewR2StorageService creates a StorageService configured for Cloudflare R2
func NewR2StorageService(cfg *config.R2StorageConfig) interfaces.StorageService {
	r2Client := aws_client.NewS3Client(&aws.Config{
		Endpoint:         aws.String("https://" + cfg.AccountID + ".r2.cloudflarestorage.com"),
		Region:           aws.String("auto"),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.AccessKeySecret, ""),
		S3ForcePathStyle: aws.Bool(true),
	})

	return NewStorageService(r2Client, StorageConfig{
		BucketName: cfg.AttachmentBucket,
		KeyPrefix:  attachmentKeyPrefix,
	})
}
