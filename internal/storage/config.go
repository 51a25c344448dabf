package storage

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ProviderType identifies a remote target implementation
type ProviderType string

const (
	ProviderLocal ProviderType = "local"
	ProviderS3    ProviderType = "s3"
	ProviderMinIO ProviderType = "minio"
	ProviderAzure ProviderType = "azure"
	ProviderGCS   ProviderType = "gcs"
)

// SupportedProviders returns every provider NewObjectStore can build
func SupportedProviders() []ProviderType {
	return []ProviderType{ProviderLocal, ProviderS3, ProviderMinIO, ProviderAzure, ProviderGCS}
}

// ParseProvider normalizes a provider name, accepting any case
func ParseProvider(name string) (ProviderType, error) {
	p := ProviderType(strings.ToLower(strings.TrimSpace(name)))
	for _, supported := range SupportedProviders() {
		if p == supported {
			return p, nil
		}
	}
	return "", fmt.Errorf("unsupported storage provider %q", name)
}

// TargetConfig selects and configures the replication target
type TargetConfig struct {
	Provider ProviderType `yaml:"provider" json:"provider" mapstructure:"provider"`
	// Prefix is prepended to every object key
	Prefix string       `yaml:"prefix,omitempty" json:"prefix,omitempty" mapstructure:"prefix"`
	Local  *LocalConfig `yaml:"local,omitempty" json:"local,omitempty" mapstructure:"local"`
	S3     *S3Config    `yaml:"s3,omitempty" json:"s3,omitempty" mapstructure:"s3"`
	MinIO  *MinIOConfig `yaml:"minio,omitempty" json:"minio,omitempty" mapstructure:"minio"`
	Azure  *AzureConfig `yaml:"azure,omitempty" json:"azure,omitempty" mapstructure:"azure"`
	GCS    *GCSConfig   `yaml:"gcs,omitempty" json:"gcs,omitempty" mapstructure:"gcs"`
}

// LocalConfig for a directory target (mounted share, second disk)
type LocalConfig struct {
	BasePath    string      `yaml:"base_path" json:"base_path" mapstructure:"base_path"`
	Permissions os.FileMode `yaml:"permissions,omitempty" json:"permissions,omitempty" mapstructure:"permissions"`
}

// S3Config for Amazon S3 or an S3-compatible endpoint
type S3Config struct {
	Bucket         string `yaml:"bucket" json:"bucket" mapstructure:"bucket"`
	Region         string `yaml:"region" json:"region" mapstructure:"region"`
	AccessKey      string `yaml:"access_key,omitempty" json:"access_key,omitempty" mapstructure:"access_key"`
	SecretKey      string `yaml:"secret_key,omitempty" json:"secret_key,omitempty" mapstructure:"secret_key"`
	Endpoint       string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" mapstructure:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style,omitempty" json:"force_path_style,omitempty" mapstructure:"force_path_style"`
}

// MinIOConfig for a MinIO server
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint" mapstructure:"endpoint"`
	AccessKey string `yaml:"access_key" json:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" json:"secret_key" mapstructure:"secret_key"`
	Bucket    string `yaml:"bucket" json:"bucket" mapstructure:"bucket"`
	UseSSL    bool   `yaml:"use_ssl" json:"use_ssl" mapstructure:"use_ssl"`
	Region    string `yaml:"region,omitempty" json:"region,omitempty" mapstructure:"region"`
}

// AzureConfig for Azure Blob Storage
type AzureConfig struct {
	AccountName   string `yaml:"account_name" json:"account_name" mapstructure:"account_name"`
	AccountKey    string `yaml:"account_key" json:"account_key" mapstructure:"account_key"`
	ContainerName string `yaml:"container_name" json:"container_name" mapstructure:"container_name"`
	// Endpoint overrides https://<account>.blob.core.windows.net, e.g. for Azurite
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" mapstructure:"endpoint"`
}

// GCSConfig for Google Cloud Storage
type GCSConfig struct {
	Bucket          string `yaml:"bucket" json:"bucket" mapstructure:"bucket"`
	CredentialsPath string `yaml:"credentials_path,omitempty" json:"credentials_path,omitempty" mapstructure:"credentials_path"`
	ProjectID       string `yaml:"project_id,omitempty" json:"project_id,omitempty" mapstructure:"project_id"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" mapstructure:"endpoint"`
}

// IsConfigured reports whether a provider has been chosen
func (tc *TargetConfig) IsConfigured() bool {
	return tc != nil && tc.Provider != ""
}

// Validate validates the target configuration
func (tc *TargetConfig) Validate() error {
	var errors ValidationErrors

	if _, err := ParseProvider(string(tc.Provider)); err != nil {
		errors.Add("provider", "invalid storage provider type", tc.Provider)
		return errors
	}

	if strings.HasPrefix(tc.Prefix, "/") {
		errors.Add("prefix", "prefix must be relative", tc.Prefix)
	}

	switch tc.Provider {
	case ProviderLocal:
		if tc.Local == nil {
			errors.Add("local", "local storage configuration is required", nil)
		} else {
			errors.Merge("local", tc.Local.Validate())
		}
	case ProviderS3:
		if tc.S3 == nil {
			errors.Add("s3", "S3 storage configuration is required", nil)
		} else {
			errors.Merge("s3", tc.S3.Validate())
		}
	case ProviderMinIO:
		if tc.MinIO == nil {
			errors.Add("minio", "MinIO storage configuration is required", nil)
		} else {
			errors.Merge("minio", tc.MinIO.Validate())
		}
	case ProviderAzure:
		if tc.Azure == nil {
			errors.Add("azure", "Azure storage configuration is required", nil)
		} else {
			errors.Merge("azure", tc.Azure.Validate())
		}
	case ProviderGCS:
		if tc.GCS == nil {
			errors.Add("gcs", "GCS storage configuration is required", nil)
		} else {
			errors.Merge("gcs", tc.GCS.Validate())
		}
	}

	if errors.HasErrors() {
		return errors
	}
	return nil
}

// SetDefaults sets default values for the selected provider
func (tc *TargetConfig) SetDefaults() {
	switch tc.Provider {
	case ProviderLocal:
		if tc.Local == nil {
			tc.Local = &LocalConfig{}
		}
		tc.Local.SetDefaults()
	case ProviderS3:
		if tc.S3 == nil {
			tc.S3 = &S3Config{}
		}
		tc.S3.SetDefaults()
	case ProviderMinIO:
		if tc.MinIO == nil {
			tc.MinIO = &MinIOConfig{}
		}
		tc.MinIO.SetDefaults()
	case ProviderAzure:
		if tc.Azure == nil {
			tc.Azure = &AzureConfig{}
		}
	case ProviderGCS:
		if tc.GCS == nil {
			tc.GCS = &GCSConfig{}
		}
		tc.GCS.SetDefaults()
	}
}

// LoadFromEnvironment overlays CBS_TARGET_* environment variables
func (tc *TargetConfig) LoadFromEnvironment() {
	if val := os.Getenv("CBS_TARGET_PROVIDER"); val != "" {
		if p, err := ParseProvider(val); err == nil {
			tc.Provider = p
		}
	}
	if val := os.Getenv("CBS_TARGET_PREFIX"); val != "" {
		tc.Prefix = val
	}

	tc.SetDefaults()

	switch tc.Provider {
	case ProviderLocal:
		if val := os.Getenv("CBS_TARGET_LOCAL_BASE_PATH"); val != "" {
			tc.Local.BasePath = val
		}
		if val := os.Getenv("CBS_TARGET_LOCAL_PERMISSIONS"); val != "" {
			if parsed, err := strconv.ParseUint(val, 8, 32); err == nil {
				tc.Local.Permissions = os.FileMode(parsed)
			}
		}
	case ProviderS3:
		setFromEnv(&tc.S3.Bucket, "CBS_TARGET_S3_BUCKET")
		setFromEnv(&tc.S3.Region, "CBS_TARGET_S3_REGION")
		setFromEnv(&tc.S3.AccessKey, "CBS_TARGET_S3_ACCESS_KEY")
		setFromEnv(&tc.S3.SecretKey, "CBS_TARGET_S3_SECRET_KEY")
		setFromEnv(&tc.S3.Endpoint, "CBS_TARGET_S3_ENDPOINT")
	case ProviderMinIO:
		setFromEnv(&tc.MinIO.Endpoint, "CBS_TARGET_MINIO_ENDPOINT")
		setFromEnv(&tc.MinIO.AccessKey, "CBS_TARGET_MINIO_ACCESS_KEY")
		setFromEnv(&tc.MinIO.SecretKey, "CBS_TARGET_MINIO_SECRET_KEY")
		setFromEnv(&tc.MinIO.Bucket, "CBS_TARGET_MINIO_BUCKET")
		if val := os.Getenv("CBS_TARGET_MINIO_USE_SSL"); val != "" {
			if parsed, err := strconv.ParseBool(val); err == nil {
				tc.MinIO.UseSSL = parsed
			}
		}
	case ProviderAzure:
		setFromEnv(&tc.Azure.AccountName, "CBS_TARGET_AZURE_ACCOUNT_NAME")
		setFromEnv(&tc.Azure.AccountKey, "CBS_TARGET_AZURE_ACCOUNT_KEY")
		setFromEnv(&tc.Azure.ContainerName, "CBS_TARGET_AZURE_CONTAINER_NAME")
	case ProviderGCS:
		setFromEnv(&tc.GCS.Bucket, "CBS_TARGET_GCS_BUCKET")
		setFromEnv(&tc.GCS.CredentialsPath, "CBS_TARGET_GCS_CREDENTIALS_PATH")
		setFromEnv(&tc.GCS.ProjectID, "CBS_TARGET_GCS_PROJECT_ID")
	}
}

func setFromEnv(field *string, key string) {
	if val := os.Getenv(key); val != "" {
		*field = val
	}
}

// Redacted returns a copy with secrets masked, safe to print or log
func (tc TargetConfig) Redacted() TargetConfig {
	out := tc
	if tc.S3 != nil {
		s3 := *tc.S3
		s3.SecretKey = mask(s3.SecretKey)
		out.S3 = &s3
	}
	if tc.MinIO != nil {
		m := *tc.MinIO
		m.SecretKey = mask(m.SecretKey)
		out.MinIO = &m
	}
	if tc.Azure != nil {
		a := *tc.Azure
		a.AccountKey = mask(a.AccountKey)
		out.Azure = &a
	}
	return out
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}

// Validate validates local storage configuration
func (lc *LocalConfig) Validate() error {
	var errors ValidationErrors
	if strings.TrimSpace(lc.BasePath) == "" {
		errors.Add("base_path", "base path is required", lc.BasePath)
	}
	if errors.HasErrors() {
		return errors
	}
	return nil
}

// SetDefaults sets default values for local storage configuration
func (lc *LocalConfig) SetDefaults() {
	if lc.Permissions == 0 {
		lc.Permissions = 0755
	}
}

// Validate validates S3 storage configuration.
// Keys are optional; without them the default AWS credential chain is used.
func (s3c *S3Config) Validate() error {
	var errors ValidationErrors
	if s3c.Bucket == "" {
		errors.Add("bucket", "bucket is required", nil)
	}
	if s3c.Region == "" {
		errors.Add("region", "region is required", nil)
	}
	if (s3c.AccessKey == "") != (s3c.SecretKey == "") {
		errors.Add("access_key", "access key and secret key must be set together", nil)
	}
	if errors.HasErrors() {
		return errors
	}
	return nil
}

// SetDefaults sets default values for S3 storage configuration
func (s3c *S3Config) SetDefaults() {
	if s3c.Region == "" {
		s3c.Region = "us-east-1"
	}
}

// Validate validates MinIO storage configuration
func (mc *MinIOConfig) Validate() error {
	var errors ValidationErrors
	if mc.Endpoint == "" {
		errors.Add("endpoint", "endpoint is required", nil)
	}
	if mc.AccessKey == "" {
		errors.Add("access_key", "access key is required", nil)
	}
	if mc.SecretKey == "" {
		errors.Add("secret_key", "secret key is required", nil)
	}
	if mc.Bucket == "" {
		errors.Add("bucket", "bucket is required", nil)
	}
	if errors.HasErrors() {
		return errors
	}
	return nil
}

// SetDefaults sets default values for MinIO storage configuration
func (mc *MinIOConfig) SetDefaults() {
	if mc.Region == "" {
		mc.Region = "us-east-1"
	}
}

// Validate validates Azure storage configuration
func (ac *AzureConfig) Validate() error {
	var errors ValidationErrors
	if ac.AccountName == "" {
		errors.Add("account_name", "account name is required", nil)
	}
	if ac.AccountKey == "" {
		errors.Add("account_key", "account key is required", nil)
	}
	if ac.ContainerName == "" {
		errors.Add("container_name", "container name is required", nil)
	}
	if errors.HasErrors() {
		return errors
	}
	return nil
}

// Validate validates GCS storage configuration
func (gc *GCSConfig) Validate() error {
	var errors ValidationErrors
	if gc.Bucket == "" {
		errors.Add("bucket", "bucket is required", nil)
	}
	if errors.HasErrors() {
		return errors
	}
	return nil
}

// SetDefaults sets default values for GCS storage configuration
func (gc *GCSConfig) SetDefaults() {
	if gc.CredentialsPath == "" {
		gc.CredentialsPath = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
}
