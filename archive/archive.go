// Package archive stores deleted-branch bundles in an S3 compatible object
// store so administrative branch deletion never destroys history outright.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	campaign "github.com/jakekausler/campaign-manager-sub010"
	"github.com/jakekausler/campaign-manager-sub010/encoding"
)

type Config struct {
	// "http://127.0.0.1:9000"
	HostEndpointUrl string
	// "us-east-1"
	Region   string
	Username string
	Password string
	// Bucket receiving branch bundles.
	Bucket string
}

// Connect to the S3 (or minio) server endpoint.
func Connect(config Config) *s3.Client {
	client := s3.NewFromConfig(aws.Config{Region: config.Region}, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(config.HostEndpointUrl)
		o.Credentials = credentials.NewStaticCredentialsProvider(config.Username, config.Password, "")
	})
	return client
}

// Bundle is the archived form of one deleted branch.
type Bundle struct {
	Branch     campaign.Branch    `json:"branch"`
	Versions   []campaign.Version `json:"versions"`
	ArchivedAt time.Time          `json:"archivedAt"`
}

// Store writes and reads branch bundles.
type Store struct {
	S3Client *s3.Client
	bucket   string
}

// NewStore wraps the S3 client for the configured bucket.
func NewStore(s3Client *s3.Client, bucket string) (*Store, error) {
	if s3Client == nil {
		return nil, fmt.Errorf("s3Client parameter can't be nil")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket parameter can't be empty")
	}
	return &Store{
		S3Client: s3Client,
		bucket:   bucket,
	}, nil
}

// BundleKey names the object holding one branch's bundle.
func BundleKey(branchID campaign.UUID) string {
	return "branches/" + branchID.String() + ".json"
}

// ArchiveBranch uploads the branch row and all its versions as one object.
func (s *Store) ArchiveBranch(ctx context.Context, b campaign.Branch, versions []campaign.Version) error {
	bundle := Bundle{
		Branch:     b,
		Versions:   versions,
		ArchivedAt: time.Now(),
	}
	ba, err := encoding.DefaultMarshaler.Marshal(bundle)
	if err != nil {
		return err
	}
	_, err = s.S3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(BundleKey(b.ID)),
		Body:   bytes.NewReader(ba),
	})
	if err != nil {
		return fmt.Errorf("couldn't archive branch %s to bucket %s, details: %v", b.ID, s.bucket, err)
	}
	return nil
}

// GetBundle fetches an archived branch bundle back.
func (s *Store) GetBundle(ctx context.Context, branchID campaign.UUID) (Bundle, error) {
	out, err := s.S3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(BundleKey(branchID)),
	})
	if err != nil {
		return Bundle{}, fmt.Errorf("couldn't fetch bundle of branch %s, details: %v", branchID, err)
	}
	defer out.Body.Close()
	ba, err := io.ReadAll(out.Body)
	if err != nil {
		return Bundle{}, err
	}
	var bundle Bundle
	if err := encoding.DefaultMarshaler.Unmarshal(ba, &bundle); err != nil {
		return Bundle{}, err
	}
	return bundle, nil
}
