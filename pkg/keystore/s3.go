package keystore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// DefaultObjectKey is the key of the JWKS object in the bucket
const DefaultObjectKey = "keys.json"

// S3Config holds configuration for the S3 key store
type S3Config struct {
	BucketHost      string
	BucketPort      int
	BucketName      string
	ObjectKey       string
	UseSSL          bool
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// objectAPI is the subset of *s3.Client used by S3Store
type objectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Store keeps a JWKS document in S3-compatible object storage
type S3Store struct {
	client    objectAPI
	bucket    string
	objectKey string
	mu        sync.RWMutex
}

// NewS3Store creates a new S3 key store client
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s:%d", scheme, cfg.BucketHost, cfg.BucketPort)

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true // Required for MinIO and most S3-compatible stores
	})

	return newS3Store(client, cfg.BucketName, cfg.ObjectKey), nil
}

func newS3Store(client objectAPI, bucket, objectKey string) *S3Store {
	if objectKey == "" {
		objectKey = DefaultObjectKey
	}
	return &S3Store{client: client, bucket: bucket, objectKey: objectKey}
}

// loadKeys reads the key set object; a missing object is an empty set
func (s *S3Store) loadKeys(ctx context.Context) (map[string]string, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to get key set: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read key set: %w", err)
	}
	return ParseKeySet(data)
}

func (s *S3Store) saveKeys(ctx context.Context, keys map[string]string) error {
	data, err := MarshalKeySet(keys)
	if err != nil {
		return fmt.Errorf("failed to marshal key set: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/jwk-set+json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put key set: %w", err)
	}
	return nil
}

// Lookup returns the key published under kid
func (s *S3Store) Lookup(ctx context.Context, kid string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys, err := s.loadKeys(ctx)
	if err != nil {
		return "", err
	}
	key, ok := keys[kid]
	if !ok {
		return "", &ErrKeyNotFound{Kid: kid}
	}
	return key, nil
}

// List returns all key ids in sorted order
func (s *S3Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys, err := s.loadKeys(ctx)
	if err != nil {
		return nil, err
	}
	return sortedKids(keys), nil
}

// Put merges keys into the stored key set
func (s *S3Store) Put(ctx context.Context, keys map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.loadKeys(ctx)
	if err != nil {
		return err
	}
	for kid, key := range keys {
		current[kid] = key
	}
	return s.saveKeys(ctx, current)
}

// Ping checks if the bucket is reachable
func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to ping bucket: %w", err)
	}
	return nil
}
