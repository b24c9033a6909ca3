// Package storage publishes result artifacts to an object store.
package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/lagrangedao/go-c2d-flow/conf"
)

const (
	EnvAzureConnectionString = "AZURE_STORAGE_CONNECTION_STRING"
	EnvMcsApiKey             = "MCS_API_KEY"
	EnvMcsAccessToken        = "MCS_ACCESS_TOKEN"
	EnvMcsNetwork            = "MCS_NETWORK"

	contentTypePng = "image/png"
)

// ArtifactStore uploads named blobs into a container. PublicURL is derived from the
// configured base path only and never depends on the upload itself.
type ArtifactStore interface {
	Upload(ctx context.Context, container, name string, data []byte) error
	PublicURL(name string) string
}

func publicURL(baseUrl, name string) string {
	return strings.TrimRight(baseUrl, "/") + "/" + name
}

// NewArtifactStore builds the store selected by the [STORAGE] section. Credentials are
// read from the environment.
func NewArtifactStore(cfg conf.STORAGE) (ArtifactStore, error) {
	switch cfg.Backend {
	case conf.StorageAzure:
		return NewAzureStore(os.Getenv(EnvAzureConnectionString), cfg.BaseUrl)
	case conf.StorageMcs:
		return NewMcsStore(McsCredentials{
			ApiKey:      os.Getenv(EnvMcsApiKey),
			AccessToken: os.Getenv(EnvMcsAccessToken),
			Network:     os.Getenv(EnvMcsNetwork),
		}, cfg.FileCachePath, cfg.BaseUrl)
	case conf.StorageLocal, "":
		if err := checkContainerURL(cfg.BaseUrl, cfg.Container); err != nil {
			return nil, err
		}
		return NewLocalStore(cfg.BaseUrl), nil
	}
	return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
}

// checkContainerURL rejects a local base URL that does not end in the container, since
// Handler serves objects under /<container>/<name>.
func checkContainerURL(baseUrl, container string) error {
	if container == "" {
		return nil
	}
	if !strings.HasSuffix(strings.TrimRight(baseUrl, "/"), "/"+container) {
		return fmt.Errorf("local storage BaseUrl %s must end with the container %s, e.g. http://localhost:8085/artifacts/%s",
			baseUrl, container, container)
	}
	return nil
}
