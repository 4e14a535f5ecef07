package mirror

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/3leaps/tunegrab/pkg/jobregistry"
)

// imdsTimeout bounds the instance metadata region lookup.
const imdsTimeout = 2 * time.Second

// s3API is the subset of the S3 client the mirror uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Mirror uploads job output to a bucket.
type Mirror struct {
	client s3API
	bucket string
	prefix string
	class  string
	region string
	logger *zap.Logger
}

// New builds a mirror from cfg using the AWS default credential chain
// unless explicit credentials are configured.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Mirror, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &Error{Op: "New", Bucket: cfg.Bucket, Err: err}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return newWithClient(client, cfg, awsCfg.Region, logger), nil
}

func newWithClient(client s3API, cfg Config, region string, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{
		client: client,
		bucket: cfg.Bucket,
		prefix: normalizePrefix(cfg.Prefix),
		class:  cfg.StorageClass,
		region: region,
		logger: logger,
	}
}

// Bucket returns the destination bucket.
func (m *Mirror) Bucket() string { return m.bucket }

// Region returns the resolved region.
func (m *Mirror) Region() string { return m.region }

// Check verifies the bucket is reachable with the current credentials.
func (m *Mirror) Check(ctx context.Context) error {
	_, err := m.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(m.bucket)})
	if err != nil {
		return wrapError("HeadBucket", m.bucket, "", err)
	}
	return nil
}

// Publish uploads files (absolute paths under root) to
// prefix/<path relative to root>. Every file is attempted; failures are
// joined into the returned error.
func (m *Mirror) Publish(ctx context.Context, job jobregistry.Job, root string, files []string) error {
	var errs []error
	uploaded := 0
	for _, file := range files {
		key, err := m.objectKey(root, file)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := m.upload(ctx, job, file, key); err != nil {
			errs = append(errs, err)
			continue
		}
		uploaded++
	}

	m.logger.Info("Mirrored job output",
		zap.String("job_id", job.JobID),
		zap.String("bucket", m.bucket),
		zap.Int("uploaded", uploaded),
		zap.Int("failed", len(errs)))
	return errors.Join(errs...)
}

func (m *Mirror) upload(ctx context.Context, job jobregistry.Job, file, key string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open %s: %w", file, err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", file, err)
	}
	size := st.Size()

	in := &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: &size,
		Metadata: map[string]string{
			"tunegrab-job-id": job.JobID,
			"tunegrab-source": job.SourceURL,
		},
	}
	if ct := contentType(file); ct != "" {
		in.ContentType = aws.String(ct)
	}
	if m.class != "" {
		in.StorageClass = types.StorageClass(m.class)
	}

	if _, err := m.client.PutObject(ctx, in); err != nil {
		return wrapError("PutObject", m.bucket, key, err)
	}
	return nil
}

// objectKey maps file under root to its object key.
func (m *Mirror) objectKey(root, file string) (string, error) {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(file))
	if err != nil {
		return "", fmt.Errorf("relative path for %s: %w", file, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside download root %s", file, root)
	}
	return path.Join(m.prefix, rel), nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	return prefix
}

func contentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".opus", ".ogg":
		return "audio/ogg"
	}
	return mime.TypeByExtension(filepath.Ext(file))
}

// loadAWSConfig builds the AWS configuration with appropriate credentials.
func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}

	if awsCfg.Region == "" && cfg.DetectRegion && cfg.Endpoint == "" {
		if region, err := DetectRegion(ctx); err == nil {
			awsCfg.Region = region
		}
	}
	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// DetectRegion asks the EC2 instance metadata service for the region.
func DetectRegion(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, imdsTimeout)
	defer cancel()

	out, err := imds.New(imds.Options{}).GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil {
		return "", fmt.Errorf("instance metadata region: %w", err)
	}
	return out.Region, nil
}

// resolveRegion applies the us-east-1 fallback for AWS S3 only.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint == "" {
		return DefaultAWSRegion
	}
	return ""
}
