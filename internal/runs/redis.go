package runs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/gocelery/gocelery"
	"github.com/gomodule/redigo/redis"
	"github.com/lagrangedao/go-c2d-flow/internal/models"
	"golang.org/x/xerrors"
)

const (
	RunsHashKey = "c2d:flow:runs"
	TaskRunFlow = "c2d.flow.run"
)

func NewRedisPool(url string, password string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     5,
		MaxActive:   0,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			if password != "" {
				return redis.DialURL(url, redis.DialPassword(password))
			}
			return redis.DialURL(url)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			_, err := c.Do("PING")
			return err
		},
	}
}

// RedisStore keeps every run as a json field of one hash, so runs submitted by the
// API are visible to celery workers in other processes.
type RedisStore struct {
	pool *redis.Pool
	key  string
}

func NewRedisStore(pool *redis.Pool) *RedisStore {
	return &RedisStore{pool: pool, key: RunsHashKey}
}

func (s *RedisStore) Put(run *models.FlowRun) error {
	conn := s.pool.Get()
	defer conn.Close()

	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	if _, err := conn.Do("HSET", s.key, run.Uuid, data); err != nil {
		return xerrors.Errorf("hset run %s: %w", run.Uuid, err)
	}
	return nil
}

func (s *RedisStore) Get(uuid string) (*models.FlowRun, error) {
	conn := s.pool.Get()
	defer conn.Close()

	data, err := redis.Bytes(conn.Do("HGET", s.key, uuid))
	if err != nil {
		if xerrors.Is(err, redis.ErrNil) {
			return nil, xerrors.Errorf("run '%s': %w", uuid, ErrRunNotFound)
		}
		return nil, xerrors.Errorf("hget run %s: %w", uuid, err)
	}
	return decodeRun(data)
}

func (s *RedisStore) List() ([]*models.FlowRun, error) {
	conn := s.pool.Get()
	defer conn.Close()

	values, err := redis.ByteSlices(conn.Do("HVALS", s.key))
	if err != nil {
		return nil, xerrors.Errorf("hvals %s: %w", s.key, err)
	}
	list := make([]*models.FlowRun, 0, len(values))
	for _, v := range values {
		run, err := decodeRun(v)
		if err != nil {
			return nil, err
		}
		list = append(list, run)
	}
	sortRuns(list)
	return list, nil
}

func (s *RedisStore) Close() error {
	return s.pool.Close()
}

// CeleryDispatcher queues runs on a redis-backed celery broker.
type CeleryDispatcher struct {
	cli *gocelery.CeleryClient
}

func NewCeleryDispatcher(pool *redis.Pool, workers int) (*CeleryDispatcher, error) {
	if workers <= 0 {
		workers = 1
	}
	cli, err := gocelery.NewCeleryClient(
		gocelery.NewRedisBroker(pool),
		gocelery.NewRedisBackend(pool),
		workers)
	if err != nil {
		return nil, xerrors.Errorf("failed init celery client: %w", err)
	}
	return &CeleryDispatcher{cli: cli}, nil
}

func (d *CeleryDispatcher) Start(execute ExecuteFunc) {
	d.cli.Register(TaskRunFlow, func(uuid string) string {
		execute(context.Background(), uuid)
		return uuid
	})
	d.cli.StartWorker()
}

func (d *CeleryDispatcher) Dispatch(uuid string) error {
	if _, err := d.cli.Delay(TaskRunFlow, uuid); err != nil {
		return xerrors.Errorf("delay %s: %w", uuid, err)
	}
	logs.GetLogger().Infof("queued run %s on celery", uuid)
	return nil
}

func (d *CeleryDispatcher) Stop() {
	d.cli.StopWorker()
}
