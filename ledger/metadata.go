package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lagrangedao/go-c2d-flow/internal/models"
	"golang.org/x/xerrors"
)

const ddoPath = "/api/v1/aquarius/assets/ddo/"

// MetadataCache stores published asset descriptors.
type MetadataCache struct {
	uri        string
	httpClient *http.Client
}

func NewMetadataCache(uri string) *MetadataCache {
	return &MetadataCache{
		uri:        strings.TrimRight(uri, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (m *MetadataCache) Uri() string {
	return m.uri
}

func (m *MetadataCache) Publish(ctx context.Context, ddo *models.DDO) error {
	_, err := m.send(ctx, http.MethodPost, strings.TrimSuffix(ddoPath, "/"), ddo)
	return err
}

func (m *MetadataCache) Update(ctx context.Context, ddo *models.DDO) error {
	_, err := m.send(ctx, http.MethodPut, ddoPath+ddo.Did, ddo)
	return err
}

func (m *MetadataCache) Resolve(ctx context.Context, did string) (*models.DDO, error) {
	body, err := m.send(ctx, http.MethodGet, ddoPath+did, nil)
	if err != nil {
		return nil, err
	}
	var ddo models.DDO
	if err := json.Unmarshal(body, &ddo); err != nil {
		return nil, fmt.Errorf("decode ddo %s, error: %+v", did, err)
	}
	return &ddo, nil
}

func (m *MetadataCache) send(ctx context.Context, method, path string, ddo *models.DDO) ([]byte, error) {
	var payload io.Reader
	if ddo != nil {
		data, err := json.Marshal(ddo)
		if err != nil {
			return nil, fmt.Errorf("failed convert to json, error: %+v", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.uri+path, payload)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed send a request to metadata cache, error: %+v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, xerrors.Errorf("%s %s: %w", method, path, ErrAssetNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("metadata cache %s %s, status code: %d, body: %s", method, path, resp.StatusCode, string(body))
	}
	return body, nil
}
