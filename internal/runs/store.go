// Package runs tracks asynchronous flow executions.
package runs

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/lagrangedao/go-c2d-flow/internal/models"
	"github.com/syndtr/goleveldb/leveldb"
	"golang.org/x/xerrors"
)

var ErrRunNotFound = xerrors.New("flow run not found")

// Store persists flow runs by uuid.
type Store interface {
	Put(run *models.FlowRun) error
	Get(uuid string) (*models.FlowRun, error)
	List() ([]*models.FlowRun, error)
	Close() error
}

type LevelDBStore struct {
	db *leveldb.DB
}

func OpenLevelDBStore(p string) (*LevelDBStore, error) {
	if err := os.MkdirAll(p, 0700); err != nil {
		return nil, err
	}
	db, err := leveldb.OpenFile(p, nil)
	if err != nil {
		return nil, fmt.Errorf("failed open run store %s, error: %+v", p, err)
	}
	return &LevelDBStore{db: db}, nil
}

func (s *LevelDBStore) Put(run *models.FlowRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	if err := s.db.Put([]byte(run.Uuid), data, nil); err != nil {
		return fmt.Errorf("writing run '%s': %w", run.Uuid, err)
	}
	return nil
}

func (s *LevelDBStore) Get(uuid string) (*models.FlowRun, error) {
	data, err := s.db.Get([]byte(uuid), nil)
	if err != nil {
		if xerrors.Is(err, leveldb.ErrNotFound) {
			return nil, xerrors.Errorf("run '%s': %w", uuid, ErrRunNotFound)
		}
		return nil, fmt.Errorf("reading run '%s': %w", uuid, err)
	}
	return decodeRun(data)
}

func (s *LevelDBStore) List() ([]*models.FlowRun, error) {
	var list []*models.FlowRun
	iter := s.db.NewIterator(nil, nil)
	for iter.Next() {
		run, err := decodeRun(iter.Value())
		if err != nil {
			iter.Release()
			return nil, err
		}
		list = append(list, run)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sortRuns(list)
	return list, nil
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

func decodeRun(data []byte) (*models.FlowRun, error) {
	var run models.FlowRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decoding run: %w", err)
	}
	return &run, nil
}

// newest first
func sortRuns(list []*models.FlowRun) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}
