package runs

import (
	"context"
	"sync"
	"time"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/google/uuid"
	"github.com/lagrangedao/go-c2d-flow/internal/models"
	"golang.org/x/xerrors"
)

const eventBuffer = 32

// Runner executes one flow.
type Runner interface {
	Run(ctx context.Context) (*models.FlowResult, error)
}

// RunnerFactory builds a runner that reports its progress to the given func.
type RunnerFactory func(progress func(models.FlowEvent)) (Runner, error)

type Manager struct {
	store      Store
	dispatcher Dispatcher
	factory    RunnerFactory

	lk   sync.Mutex
	subs map[string][]chan models.FlowEvent
}

func NewManager(store Store, dispatcher Dispatcher, factory RunnerFactory) *Manager {
	return &Manager{
		store:      store,
		dispatcher: dispatcher,
		factory:    factory,
		subs:       make(map[string][]chan models.FlowEvent),
	}
}

func (m *Manager) Start() {
	m.dispatcher.Start(m.Execute)
}

func (m *Manager) Stop(ctx context.Context) error {
	m.dispatcher.Stop()
	return m.store.Close()
}

// Submit records a queued run and hands it to the dispatcher.
func (m *Manager) Submit(ctx context.Context) (*models.FlowRun, error) {
	now := time.Now()
	run := &models.FlowRun{
		Uuid:      uuid.NewString(),
		Status:    models.RunQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Put(run); err != nil {
		return nil, err
	}
	if err := m.dispatcher.Dispatch(run.Uuid); err != nil {
		m.finish(run, nil, err)
		return run, err
	}
	logs.GetLogger().Infof("submitted flow run %s", run.Uuid)
	return run, nil
}

func (m *Manager) Get(uuid string) (*models.FlowRun, error) {
	return m.store.Get(uuid)
}

func (m *Manager) List() ([]*models.FlowRun, error) {
	return m.store.List()
}

// Execute runs a queued flow and records every step transition.
func (m *Manager) Execute(ctx context.Context, uuid string) {
	run, err := m.store.Get(uuid)
	if err != nil {
		logs.GetLogger().Errorf("failed load run %s, error: %+v", uuid, err)
		return
	}
	if run.Status != models.RunQueued {
		logs.GetLogger().Warnf("run %s is already %s", uuid, run.Status)
		return
	}

	run.Status = models.RunRunning
	run.UpdatedAt = time.Now()
	if err := m.store.Put(run); err != nil {
		logs.GetLogger().Errorf("failed update run %s, error: %+v", uuid, err)
	}

	runner, err := m.factory(func(event models.FlowEvent) {
		event.RunUuid = uuid
		run.Step = event.Step
		run.UpdatedAt = event.Time
		if err := m.store.Put(run); err != nil {
			logs.GetLogger().Errorf("failed update run %s, error: %+v", uuid, err)
		}
		m.publish(event)
	})
	if err != nil {
		m.finish(run, nil, xerrors.Errorf("build flow: %w", err))
		return
	}

	result, err := runner.Run(ctx)
	m.finish(run, result, err)
}

func (m *Manager) finish(run *models.FlowRun, result *models.FlowResult, err error) {
	run.Result = result
	run.UpdatedAt = time.Now()
	if err != nil {
		run.Status = models.RunFailed
		run.Error = err.Error()
		logs.GetLogger().Errorf("flow run %s failed, error: %+v", run.Uuid, err)
	} else {
		run.Status = models.RunSucceeded
		logs.GetLogger().Infof("flow run %s succeeded", run.Uuid)
	}
	if err := m.store.Put(run); err != nil {
		logs.GetLogger().Errorf("failed update run %s, error: %+v", run.Uuid, err)
	}
	m.publish(terminalEvent(run))
	m.closeSubscribers(run.Uuid)
}

func terminalEvent(run *models.FlowRun) models.FlowEvent {
	msg := string(run.Status)
	if run.Error != "" {
		msg += ": " + run.Error
	}
	return models.FlowEvent{RunUuid: run.Uuid, Step: run.Step, Message: msg, Time: run.UpdatedAt}
}

// Subscribe streams the events of a run until it finishes. A finished run yields its
// terminal event and a closed channel.
func (m *Manager) Subscribe(uuid string) (<-chan models.FlowEvent, func(), error) {
	ch := make(chan models.FlowEvent, eventBuffer)

	// finish stores the terminal status before it closes subscribers, so checking
	// under the lock never misses the close.
	m.lk.Lock()
	run, err := m.store.Get(uuid)
	if err != nil {
		m.lk.Unlock()
		return nil, nil, err
	}
	if run.Status == models.RunSucceeded || run.Status == models.RunFailed {
		m.lk.Unlock()
		ch <- terminalEvent(run)
		close(ch)
		return ch, func() {}, nil
	}
	m.subs[uuid] = append(m.subs[uuid], ch)
	m.lk.Unlock()

	cancel := func() {
		m.lk.Lock()
		defer m.lk.Unlock()
		subs := m.subs[uuid]
		for i, c := range subs {
			if c == ch {
				m.subs[uuid] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
	return ch, cancel, nil
}

func (m *Manager) publish(event models.FlowEvent) {
	m.lk.Lock()
	defer m.lk.Unlock()
	for _, ch := range m.subs[event.RunUuid] {
		select {
		case ch <- event:
		default:
			logs.GetLogger().Warnf("dropped event of run %s for a slow subscriber", event.RunUuid)
		}
	}
}

func (m *Manager) closeSubscribers(uuid string) {
	m.lk.Lock()
	defer m.lk.Unlock()
	for _, ch := range m.subs[uuid] {
		close(ch)
	}
	delete(m.subs, uuid)
}
