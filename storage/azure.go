package storage

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
)

// AzureStore uploads block blobs to an Azure storage account.
type AzureStore struct {
	client  *azblob.Client
	baseUrl string
}

func NewAzureStore(connectionString, baseUrl string) (*AzureStore, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("%s must be set for the azure storage backend", EnvAzureConnectionString)
	}
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed creating azure blob client, error: %+v", err)
	}
	return &AzureStore{client: client, baseUrl: baseUrl}, nil
}

func (s *AzureStore) Upload(ctx context.Context, container, name string, data []byte) error {
	logs.GetLogger().Infof("uploading %s to azure container %s", name, container)
	contentType := contentTypePng
	_, err := s.client.UploadBuffer(ctx, container, name, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return fmt.Errorf("failed upload %s to container %s, error: %+v", name, container, err)
	}
	return nil
}

func (s *AzureStore) PublicURL(name string) string {
	return publicURL(s.baseUrl, name)
}
