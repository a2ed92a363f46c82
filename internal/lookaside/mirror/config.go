/*
Copyright 2026 Altaira Labs.

SPDX-License-Identifier: Apache-2.0

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mirror

import (
	"errors"
	"fmt"
)

// BackendType identifies the object storage backend.
type BackendType string

const (
	// BackendNone disables mirroring.
	BackendNone BackendType = ""
	// BackendS3 uses Amazon S3 or S3-compatible storage (e.g. MinIO).
	BackendS3 BackendType = "s3"
	// BackendGCS uses Google Cloud Storage.
	BackendGCS BackendType = "gcs"
	// BackendAzure uses Azure Blob Storage.
	BackendAzure BackendType = "azure"
	// BackendMemory keeps blobs in process memory; for tests and dry runs.
	BackendMemory BackendType = "memory"
)

// Config configures the lookaside mirror.
type Config struct {
	// Backend selects the object storage implementation.
	Backend BackendType `yaml:"backend"`
	// Bucket is the bucket (S3/GCS) or container (Azure) name.
	Bucket string `yaml:"bucket"`
	// S3 contains S3-specific configuration.
	S3 S3Config `yaml:"s3"`
	// GCS contains GCS-specific configuration.
	GCS GCSConfig `yaml:"gcs"`
	// Azure contains Azure-specific configuration.
	Azure AzureConfig `yaml:"azure"`
}

// S3Config contains S3-specific settings.
type S3Config struct {
	// Region is the AWS region.
	Region string `yaml:"region"`
	// Endpoint is an optional custom endpoint (for MinIO / S3-compatible).
	Endpoint string `yaml:"endpoint"`
	// AccessKeyID is the AWS access key (optional, uses IAM if not set).
	AccessKeyID string `yaml:"access_key_id"`
	// SecretAccessKey is the AWS secret key (optional, uses IAM if not set).
	SecretAccessKey string `yaml:"secret_access_key"`
	// UsePathStyle forces path-style addressing (required for MinIO).
	UsePathStyle bool `yaml:"use_path_style"`
}

// GCSConfig contains GCS-specific settings.
type GCSConfig struct {
	// CredentialsFile is a service account key file (optional, uses ADC if not set).
	CredentialsFile string `yaml:"credentials_file"`
}

// AzureConfig contains Azure Blob Storage-specific settings.
type AzureConfig struct {
	// AccountName is the Azure Storage account name.
	AccountName string `yaml:"account_name"`
	// AccountKey is the storage account key (optional, uses DefaultAzureCredential if not set).
	AccountKey string `yaml:"account_key"`
	// ServiceURL overrides the account blob endpoint (e.g. Azurite).
	ServiceURL string `yaml:"service_url"`
}

// Validate checks the settings required by the selected backend.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendNone, BackendMemory:
		return nil
	case BackendS3:
		if c.Bucket == "" || c.S3.Region == "" {
			return errors.New("mirror: s3 requires bucket and s3.region")
		}
	case BackendGCS:
		if c.Bucket == "" {
			return errors.New("mirror: gcs requires bucket")
		}
	case BackendAzure:
		if c.Bucket == "" || c.Azure.AccountName == "" {
			return errors.New("mirror: azure requires bucket and azure.account_name")
		}
	default:
		return fmt.Errorf("mirror: unknown backend %q", c.Backend)
	}
	return nil
}
