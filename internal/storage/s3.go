package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// ErrUnsupportedReference is returned for references the Reader cannot resolve.
var ErrUnsupportedReference = errors.New("unsupported reference")

// S3Options configures access to s3:// references. Empty keys fall back to the
// default AWS credential chain.
type S3Options struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Reader resolves referenced files (file:// URLs, bare paths and s3://bucket/key)
// to their bytes.
type Reader struct {
	opts     S3Options
	mu       sync.Mutex
	client   objectClient
	maxBytes int64
}

// objectClient is the slice of *s3.Client the Reader uses.
type objectClient interface {
	manager.DownloadAPIClient
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// NewReader creates a Reader. The S3 client is built lazily on first use.
func NewReader(opts S3Options, maxBytes int64) *Reader {
	return &Reader{opts: opts, maxBytes: maxBytes}
}

// ReadReference returns the bytes behind ref.
func (r *Reader) ReadReference(ctx context.Context, ref string) ([]byte, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parse reference: %w", err)
	}
	switch u.Scheme {
	case "", "file":
		p := ref
		if u.Scheme == "file" {
			p = u.Path
		}
		return r.readFile(p)
	case "s3":
		return r.readS3(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedReference, u.Scheme)
}

func (r *Reader) readFile(p string) ([]byte, error) {
	st, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", p, err)
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrUnsupportedReference, p)
	}
	if r.maxBytes > 0 && st.Size() > r.maxBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes", p, r.maxBytes)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return b, nil
}

func (r *Reader) readS3(ctx context.Context, bucket, key string) ([]byte, error) {
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("%w: s3 reference needs bucket and key", ErrUnsupportedReference)
	}
	r.mu.Lock()
	if r.client == nil {
		cfg, err := LoadAWSConfig(ctx, r.opts)
		if err != nil {
			r.mu.Unlock()
			return nil, err
		}
		r.client = s3.NewFromConfig(cfg)
	}
	client := r.client
	r.mu.Unlock()

	if r.maxBytes > 0 {
		head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to stat S3 object: %w", err)
		}
		if size := aws.ToInt64(head.ContentLength); size > r.maxBytes {
			return nil, fmt.Errorf("s3://%s/%s exceeds %d bytes", bucket, key, r.maxBytes)
		}
	}

	buf := manager.NewWriteAtBuffer(nil)
	n, err := manager.NewDownloader(client).Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	// the object may have grown since HeadObject
	if r.maxBytes > 0 && n > r.maxBytes {
		return nil, fmt.Errorf("s3://%s/%s exceeds %d bytes", bucket, key, r.maxBytes)
	}
	log.Debug().Str("bucket", bucket).Str("key", key).Int64("bytes", n).Msg("downloaded reference from S3")
	return buf.Bytes(), nil
}

// LoadAWSConfig loads the AWS configuration, preferring static keys when given.
func LoadAWSConfig(ctx context.Context, opts S3Options) (aws.Config, error) {
	var loaders []func(*awscfg.LoadOptions) error
	if opts.Region != "" {
		loaders = append(loaders, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loaders = append(loaders, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}
