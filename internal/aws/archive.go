// Package aws archives completed translations in S3.
package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	appconfig "translator/internal/config"
)

// ResultArchive stores the final text of completed jobs
type ResultArchive interface {
	UploadResult(ctx context.Context, jobID, text string) (string, error)
	TestConnection(ctx context.Context) error
}

type resultArchive struct {
	s3       *s3.Client
	uploader *manager.Uploader
	bucket   string
	region   string
}

// NewResultArchive creates an S3 archive from static credentials
func NewResultArchive(ctx context.Context, cfg appconfig.AWSConfig) (ResultArchive, error) {
	credProvider := aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
		}, nil
	})

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credProvider),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg)

	return &resultArchive{
		s3:       client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		region:   cfg.Region,
	}, nil
}

// ResultKey is the object key holding a job's result
func ResultKey(jobID string) string {
	return "results/" + jobID + ".txt"
}

// ObjectURL builds the public URL of key
func ObjectURL(bucket, region, key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, key)
}

func (s *resultArchive) UploadResult(ctx context.Context, jobID, text string) (string, error) {
	key := ResultKey(jobID)

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(text),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		log.Error().Err(err).Str("jobId", jobID).Str("key", key).Msg("Failed to archive result")
		return "", err
	}

	url := ObjectURL(s.bucket, s.region, key)
	log.Info().Str("jobId", jobID).Str("url", url).Msg("Archived result")
	return url, nil
}

func (s *resultArchive) TestConnection(ctx context.Context) error {
	_, err := s.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(1),
	})
	log.Err(err).Msg("AWS S3 Test Connection")

	return err
}
