package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

var ErrProofUnavailable = errors.New("proof image unavailable")

// R2Settings points the proof store at a Cloudflare R2 bucket.
type R2Settings struct {
	AccountID    string
	AccessKey    string
	AccessSecret string
	Bucket       string
	CDNBaseURL   string
}

// objectAPI is the slice of the S3 client the proof store uses
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// R2ProofStore uploads proof images and reads them back for AI verification.
// A nil client means uploads are disabled and reads go through the public URL only.
type R2ProofStore struct {
	client     objectAPI
	bucket     string
	cdnBaseURL string
}

func NewR2ProofStore(ctx context.Context, s R2Settings) (*R2ProofStore, error) {
	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", s.AccountID)
	cdn := s.CDNBaseURL
	if cdn == "" {
		cdn = endpoint
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.AccessKey, s.AccessSecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	return &R2ProofStore{client: client, bucket: s.Bucket, cdnBaseURL: strings.TrimRight(cdn, "/")}, nil
}

// NewURLOnlyProofStore fetches proofs from cdnBaseURL over HTTP and rejects uploads.
// With an empty cdnBaseURL no URL is fetched.
func NewURLOnlyProofStore(cdnBaseURL string) *R2ProofStore {
	return &R2ProofStore{cdnBaseURL: strings.TrimRight(cdnBaseURL, "/")}
}

func (s *R2ProofStore) UploadsEnabled() bool {
	return s != nil && s.client != nil
}

// Upload stores a multipart file under key and returns its public URL.
func (s *R2ProofStore) Upload(ctx context.Context, fileHeader *multipart.FileHeader, key string) (string, error) {
	if !s.UploadsEnabled() {
		return "", errors.New("proof uploads are not configured")
	}
	if fileHeader.Size > MaxProofBytes {
		return "", ErrTooLarge
	}
	file, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, file); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String(fileHeader.Header.Get("Content-Type")),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to R2: %w", err)
	}
	return s.cdnBaseURL + "/" + key, nil
}

// servesURL reports whether url points into the proof CDN.
func (s *R2ProofStore) servesURL(url string) bool {
	return s.cdnBaseURL != "" && strings.HasPrefix(url, s.cdnBaseURL+"/")
}

// FetchProof reads the object by key, falling back to the public URL.
// Only URLs under the CDN base are followed.
func (s *R2ProofStore) FetchProof(ctx context.Context, key, url string) ([]byte, error) {
	if key != "" && s.UploadsEnabled() {
		data, err := s.getObject(ctx, key)
		if err == nil {
			return data, nil
		}
		Logger.Warn("R2 read failed, trying proof URL", zap.String("key", key), zap.Error(err))
	}
	if url == "" {
		return nil, ErrProofUnavailable
	}
	if !s.servesURL(url) {
		Logger.Warn("refusing proof URL outside the CDN", zap.String("url", url))
		return nil, ErrProofUnavailable
	}
	data, err := GetBytes(ctx, url, MaxProofBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProofUnavailable, err)
	}
	return data, nil
}

func (s *R2ProofStore) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return readLimited(out.Body, MaxProofBytes)
}
