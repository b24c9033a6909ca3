package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/filswan/go-mcs-sdk/mcs/api/bucket"
	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/filswan/go-mcs-sdk/mcs/api/user"
)

type McsCredentials struct {
	ApiKey      string `json:"mcs_api_key"`
	AccessToken string `json:"mcs_access_token"`
	Network     string `json:"net_work"`
}

// McsStore uploads artifacts into a Multi-Chain Storage bucket; the container is the
// bucket name. Files are staged under the cache path because the bucket client uploads
// from disk.
type McsStore struct {
	credentials McsCredentials
	cachePath   string
	baseUrl     string
}

func NewMcsStore(credentials McsCredentials, cachePath, baseUrl string) (*McsStore, error) {
	if credentials.ApiKey == "" || credentials.AccessToken == "" {
		return nil, fmt.Errorf("%s and %s must be set for the mcs storage backend", EnvMcsApiKey, EnvMcsAccessToken)
	}
	if cachePath == "" {
		cachePath = os.TempDir()
	}
	return &McsStore{credentials: credentials, cachePath: cachePath, baseUrl: baseUrl}, nil
}

func (s *McsStore) Upload(ctx context.Context, container, name string, data []byte) error {
	if err := os.MkdirAll(s.cachePath, 0755); err != nil {
		return err
	}
	filePath := filepath.Join(s.cachePath, name)
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed staging %s, error: %+v", filePath, err)
	}
	defer os.Remove(filePath)

	_, err := s.uploadFileToBucket(container, name, filePath)
	return err
}

func (s *McsStore) uploadFileToBucket(bucketName, objectName, filePath string) (*bucket.OssFile, error) {
	logs.GetLogger().Infof("uploading file to bucket, objectName: %s, filePath: %s", objectName, filePath)
	mcsClient, err := user.LoginByApikey(s.credentials.ApiKey, s.credentials.AccessToken, s.credentials.Network)
	if err != nil {
		logs.GetLogger().Errorf("Failed creating mcsClient, error: %v", err)
		return nil, err
	}
	buketClient := bucket.GetBucketClient(*mcsClient)

	file, err := buketClient.GetFile(bucketName, objectName)
	if err != nil && !strings.Contains(err.Error(), "record not found") {
		logs.GetLogger().Errorf("Failed get file form bucket, error: %v", err)
		return nil, err
	}
	if file != nil {
		if err = buketClient.DeleteFile(bucketName, objectName); err != nil {
			logs.GetLogger().Errorf("Failed delete file form bucket, error: %v", err)
			return nil, err
		}
	}

	if err := buketClient.UploadFile(bucketName, objectName, filePath, true); err != nil {
		logs.GetLogger().Errorf("Failed upload file to bucket, error: %v", err)
		return nil, err
	}
	return buketClient.GetFile(bucketName, objectName)
}

func (s *McsStore) PublicURL(name string) string {
	return publicURL(s.baseUrl, name)
}
