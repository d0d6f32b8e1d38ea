package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const accelerateEndpoint = "s3-accelerate.amazonaws.com"

// MinioConfig configures the S3-compatible client.
type MinioConfig struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// Accelerate routes transfers through the S3 transfer acceleration
	// endpoint. Only meaningful against AWS.
	Accelerate         bool
	MaxRetries         int
	MaxPoolConnections int
}

// MinioStore implements ObjectStore on top of minio-go.
type MinioStore struct {
	client *minio.Client
}

// NewMinioStore builds a client with a pooled transport sized to
// MaxPoolConnections. Without static keys it falls back to the
// environment, the shared credentials file and instance metadata.
func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	transport, err := minio.DefaultTransport(cfg.UseSSL)
	if err != nil {
		return nil, fmt.Errorf("init s3 transport: %w", err)
	}
	if cfg.MaxPoolConnections > 0 {
		transport.MaxIdleConns = cfg.MaxPoolConnections
		transport.MaxIdleConnsPerHost = cfg.MaxPoolConnections
	}

	var creds *credentials.Credentials
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access != "" && secret != "" {
		creds = credentials.NewStaticV4(access, secret, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{Client: &http.Client{Transport: transport}},
		})
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:      creds,
		Secure:     cfg.UseSSL,
		Region:     region,
		Transport:  transport,
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	if cfg.Accelerate {
		client.SetS3TransferAccelerate(accelerateEndpoint)
	}
	return &MinioStore{client: client}, nil
}

// Client exposes the underlying client.
func (s *MinioStore) Client() *minio.Client { return s.client }

func (s *MinioStore) Stat(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, mapMinioError(err, bucket, key)
	}
	return ObjectInfo{Key: info.Key, Size: info.Size, ETag: info.ETag}, nil
}

func (s *MinioStore) Get(ctx context.Context, bucket, key string, offset, length int64) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	switch {
	case length > 0:
		if err := opts.SetRange(offset, offset+length-1); err != nil {
			return nil, err
		}
	case offset > 0:
		if err := opts.SetRange(offset, 0); err != nil {
			return nil, err
		}
	}
	obj, err := s.client.GetObject(ctx, bucket, key, opts)
	if err != nil {
		return nil, mapMinioError(err, bucket, key)
	}
	return &objectReader{obj: obj, bucket: bucket, key: key}, nil
}

func (s *MinioStore) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, opts PutOptions) error {
	_, err := s.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{
		ContentType:      opts.ContentType,
		PartSize:         opts.PartSize,
		NumThreads:       uint(max(opts.Concurrency, 1)),
		DisableMultipart: !opts.Multipart,
	})
	if err != nil {
		return mapMinioError(err, bucket, key)
	}
	return nil
}

// objectReader maps lazily surfaced errors of *minio.Object.
type objectReader struct {
	obj    *minio.Object
	bucket string
	key    string
}

func (o *objectReader) Read(p []byte) (int, error) {
	n, err := o.obj.Read(p)
	if err != nil && err != io.EOF {
		err = mapMinioError(err, o.bucket, o.key)
	}
	return n, err
}

func (o *objectReader) Close() error { return o.obj.Close() }

func mapMinioError(err error, bucket, key string) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
	}
	return err
}
