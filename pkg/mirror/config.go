// Package mirror copies completed downloads to S3 or S3-compatible storage.
package mirror

import "strings"

// Config configures the S3 mirror.
//
// Authentication follows the AWS SDK v2 default chain unless explicit
// credentials are set:
//  1. Explicit AccessKeyID/SecretAccessKey (if provided)
//  2. Environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY)
//  3. Shared credentials/config files with Profile
//  4. EC2 instance metadata / ECS task role / EKS IRSA
//
// Region: explicit Region wins, then env/profile. When DetectRegion is set
// and nothing else resolved a region, the EC2 instance metadata service is
// asked. AWS S3 without any region falls back to us-east-1; S3-compatible
// endpoints get no default.
type Config struct {
	// Bucket is the destination bucket (required).
	Bucket string

	// Prefix is prepended to every object key (e.g., "music/").
	Prefix string

	Region   string
	Endpoint string
	Profile  string

	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle is needed by most S3-compatible stores (MinIO, Wasabi).
	ForcePathStyle bool

	// DetectRegion queries EC2 instance metadata when no region is set.
	DetectRegion bool

	// StorageClass is an optional S3 storage class (e.g., "STANDARD_IA").
	StorageClass string
}

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	if strings.HasPrefix(c.Prefix, "/") {
		return &ConfigError{Field: "Prefix", Message: "prefix must not start with '/'"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "mirror config: " + e.Field + ": " + e.Message
}
