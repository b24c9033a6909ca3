package compute

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lagrangedao/go-c2d-flow/artifact"
	"github.com/lagrangedao/go-c2d-flow/internal/models"
	"github.com/lagrangedao/go-c2d-flow/ledger"
	"github.com/lagrangedao/go-c2d-flow/wallet"
	"golang.org/x/xerrors"
)

type sandboxJob struct {
	did    string
	owner  string
	polls  int
	result []byte
}

// SandboxBackend runs jobs against a sandbox ledger. It checks payments, service indexes
// and algorithm trust like a provider would and answers with a fitted Branin model.
type SandboxBackend struct {
	ledger      *ledger.Sandbox
	finishAfter int

	lock sync.Mutex
	jobs map[string]*sandboxJob
}

// NewSandboxBackend returns a backend whose jobs report success on the finishAfter-th poll.
func NewSandboxBackend(l *ledger.Sandbox, finishAfter int) *SandboxBackend {
	if finishAfter < 1 {
		finishAfter = 1
	}
	return &SandboxBackend{
		ledger:      l,
		finishAfter: finishAfter,
		jobs:        make(map[string]*sandboxJob),
	}
}

func (b *SandboxBackend) receipt(txId, did string, serviceIndex int, serviceType models.ServiceType, consumer *wallet.Identity) error {
	r, ok := b.ledger.Receipt(txId)
	if !ok || r.Did != did || r.Consumer != consumer.Hex() {
		return xerrors.Errorf("%s for %s: %w", txId, did, ErrOrderNotFound)
	}
	if r.ServiceType != serviceType || r.ServiceIndex != serviceIndex {
		return xerrors.Errorf("%s paid %s service %d, job uses %s service %d: %w",
			did, r.ServiceType, r.ServiceIndex, serviceType, serviceIndex, ErrServiceIndexMismatch)
	}
	return nil
}

func (b *SandboxBackend) Start(ctx context.Context, inputs []models.ComputeInput, algorithm models.AlgorithmRef, consumer *wallet.Identity) (string, error) {
	if len(inputs) == 0 {
		return "", xerrors.New("at least one compute input is required")
	}
	for _, input := range inputs {
		if err := b.receipt(input.TransferTxId, input.Did, input.ServiceIndex, models.ComputeService, consumer); err != nil {
			return "", err
		}
		ddo, err := b.ledger.ResolveAsset(ctx, input.Did)
		if err != nil {
			return "", err
		}
		if !ddo.TrustsAlgorithm(algorithm.Did) {
			return "", xerrors.Errorf("%s on %s: %w", algorithm.Did, input.Did, ErrAlgorithmNotTrusted)
		}
	}
	if err := b.receipt(algorithm.TransferTxId, algorithm.Did, algorithm.ServiceIndex, models.AccessService, consumer); err != nil {
		return "", err
	}

	result, err := sandboxModel()
	if err != nil {
		return "", err
	}
	jobId := strings.ReplaceAll(uuid.NewString(), "-", "")

	b.lock.Lock()
	defer b.lock.Unlock()
	b.jobs[jobId] = &sandboxJob{did: inputs[0].Did, owner: consumer.Hex(), result: result}
	return jobId, nil
}

func (b *SandboxBackend) job(did, jobId string, consumer *wallet.Identity) (*sandboxJob, error) {
	job, ok := b.jobs[jobId]
	if !ok || job.did != did || job.owner != consumer.Hex() {
		return nil, xerrors.Errorf("job %s not found for %s", jobId, did)
	}
	return job, nil
}

func (b *SandboxBackend) Status(ctx context.Context, did, jobId string, consumer *wallet.Identity) (*models.JobStatus, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	job, err := b.job(did, jobId, consumer)
	if err != nil {
		return nil, err
	}
	job.polls++

	status := &models.JobStatus{JobId: jobId, Did: did}
	switch {
	case job.polls >= b.finishAfter:
		status.StatusCode, status.StatusText = models.CodeJobFinished, "Job finished"
		status.Results = []models.JobResult{{Index: 0, Filename: "model.json", Type: "output"}}
	case job.polls == 1:
		status.StatusCode, status.StatusText = models.CodeWarmingUp, "Warming up"
	default:
		status.StatusCode, status.StatusText = models.CodeRunningAlgorithm, "Running algorithm"
	}
	status.State = models.JobStateFromCode(status.StatusCode)
	return status, nil
}

func (b *SandboxBackend) ResultFile(ctx context.Context, did, jobId string, index int, consumer *wallet.Identity) ([]byte, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	job, err := b.job(did, jobId, consumer)
	if err != nil {
		return nil, err
	}
	if job.polls < b.finishAfter {
		return nil, xerrors.Errorf("job %s: %w", jobId, ErrResultNotReady)
	}
	if index != 0 {
		return nil, xerrors.Errorf("job %s has no result %d", jobId, index)
	}
	return job.result, nil
}

// sandboxModel is the reference surface with a small smooth residual, standing in for
// the output of a fitted regressor.
func sandboxModel() ([]byte, error) {
	xs, ys := artifact.DefaultGrid()
	z := artifact.BraninGrid(xs, ys)
	for i, y := range ys {
		for j, x := range xs {
			z[i][j] += 2 * math.Sin(x) * math.Cos(y/3)
		}
	}
	return json.Marshal(z)
}

var _ Backend = (*SandboxBackend)(nil)
