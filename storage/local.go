package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
)

// LocalStore keeps artifacts in an in-memory S3-compatible bucket store. Handler serves
// them over the S3 path-style API, so a base URL pointing at the mount makes the public
// URLs resolvable.
type LocalStore struct {
	backend *s3mem.Backend
	faker   *gofakes3.GoFakeS3
	baseUrl string

	lk sync.Mutex
}

func NewLocalStore(baseUrl string) *LocalStore {
	backend := s3mem.New()
	return &LocalStore{
		backend: backend,
		faker: gofakes3.New(backend,
			gofakes3.WithLogger(gofakes3.GlobalLog()),
			gofakes3.WithTimeSource(gofakes3.DefaultTimeSource()),
		),
		baseUrl: baseUrl,
	}
}

func (s *LocalStore) ensureBucket(container string) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	exists, err := s.backend.BucketExists(container)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.backend.CreateBucket(container); err != nil {
			return fmt.Errorf("failed create bucket %s, error: %+v", container, err)
		}
	}
	return nil
}

func (s *LocalStore) Upload(ctx context.Context, container, name string, data []byte) error {
	if err := s.ensureBucket(container); err != nil {
		return err
	}

	meta := map[string]string{"Content-Type": contentTypePng}
	if _, err := s.backend.PutObject(container, name, meta, bytes.NewReader(data), int64(len(data))); err != nil {
		return fmt.Errorf("failed put object %s/%s, error: %+v", container, name, err)
	}
	logs.GetLogger().Infof("stored %s in local bucket %s", name, container)
	return nil
}

func (s *LocalStore) PublicURL(name string) string {
	return publicURL(s.baseUrl, name)
}

// Get reads an object back.
func (s *LocalStore) Get(container, name string) ([]byte, error) {
	obj, err := s.backend.GetObject(container, name, nil)
	if err != nil {
		return nil, err
	}
	defer obj.Contents.Close()
	return io.ReadAll(obj.Contents)
}

// Handler serves the buckets over the S3 API.
func (s *LocalStore) Handler() http.Handler {
	return s.faker.Server()
}
