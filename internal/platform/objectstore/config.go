package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/flowsync/internal/platform/env"
)

// Config describes the bucket that holds declarative workflow documents.
type Config struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	Region      string
	UseSSL      bool
	BucketSpecs string
	SpecPrefix  string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("FLOWSYNC_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:    env.String("FLOWSYNC_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:   env.String("FLOWSYNC_MINIO_ACCESS_KEY", "flowsync"),
		SecretKey:   env.String("FLOWSYNC_MINIO_SECRET_KEY", "flowsyncminio"),
		Region:      env.String("FLOWSYNC_MINIO_REGION", "us-east-1"),
		UseSSL:      useSSL,
		BucketSpecs: env.String("FLOWSYNC_MINIO_BUCKET_SPECS", "workflow-specs"),
		SpecPrefix:  env.String("FLOWSYNC_MINIO_SPEC_PREFIX", ""),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketSpecs) == "" {
		return errors.New("specs bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.HasPrefix(c.SpecPrefix, "/") {
		return fmt.Errorf("spec prefix must be relative: %q", c.SpecPrefix)
	}
	return nil
}
