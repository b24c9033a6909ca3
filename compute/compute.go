// Package compute submits compute-to-data jobs and follows them to completion.
package compute

import (
	"context"
	"strings"

	"github.com/lagrangedao/go-c2d-flow/internal/models"
	"github.com/lagrangedao/go-c2d-flow/provider"
	"github.com/lagrangedao/go-c2d-flow/wallet"
	"golang.org/x/xerrors"
)

var (
	ErrAlgorithmNotTrusted  = xerrors.New("algorithm is not trusted by the dataset")
	ErrOrderNotFound        = xerrors.New("order receipt not found")
	ErrServiceIndexMismatch = xerrors.New("service index does not match the order")
	ErrPollTimeout          = xerrors.New("job did not reach a terminal status in time")
	ErrJobFailed            = xerrors.New("compute job failed")
	ErrResultNotReady       = xerrors.New("job results are only available after success")
)

// Backend runs jobs over datasets the consumer has paid for.
type Backend interface {
	Start(ctx context.Context, inputs []models.ComputeInput, algorithm models.AlgorithmRef, consumer *wallet.Identity) (string, error)
	Status(ctx context.Context, did, jobId string, consumer *wallet.Identity) (*models.JobStatus, error)
	ResultFile(ctx context.Context, did, jobId string, index int, consumer *wallet.Identity) ([]byte, error)
}

// ProviderBackend runs jobs through a data service provider.
type ProviderBackend struct {
	client *provider.Client
}

func NewProviderBackend(client *provider.Client) *ProviderBackend {
	return &ProviderBackend{client: client}
}

func (b *ProviderBackend) Start(ctx context.Context, inputs []models.ComputeInput, algorithm models.AlgorithmRef, consumer *wallet.Identity) (string, error) {
	job, err := b.client.StartCompute(ctx, inputs, algorithm, consumer)
	if err != nil {
		return "", classify(err)
	}
	return job.JobId, nil
}

func (b *ProviderBackend) Status(ctx context.Context, did, jobId string, consumer *wallet.Identity) (*models.JobStatus, error) {
	job, err := b.client.ComputeStatus(ctx, did, jobId, consumer)
	if err != nil {
		return nil, classify(err)
	}
	return &models.JobStatus{
		JobId:      job.JobId,
		Did:        did,
		State:      models.JobStateFromCode(job.Status),
		StatusCode: job.Status,
		StatusText: job.StatusText,
		Results:    job.Results,
	}, nil
}

func (b *ProviderBackend) ResultFile(ctx context.Context, did, jobId string, index int, consumer *wallet.Identity) ([]byte, error) {
	data, err := b.client.ComputeResult(ctx, jobId, index, consumer)
	if err != nil {
		return nil, classify(err)
	}
	return data, nil
}

// classify maps provider refusals onto the package errors.
func classify(err error) error {
	perr, ok := err.(*provider.Error)
	if !ok || !perr.Rejected() {
		return err
	}
	msg := strings.ToLower(perr.Message)
	switch {
	case strings.Contains(msg, "trusted"):
		return xerrors.Errorf("%s: %w", perr.Message, ErrAlgorithmNotTrusted)
	case strings.Contains(msg, "serviceid") || strings.Contains(msg, "service index"):
		return xerrors.Errorf("%s: %w", perr.Message, ErrServiceIndexMismatch)
	case strings.Contains(msg, "order") || strings.Contains(msg, "transfertxid"):
		return xerrors.Errorf("%s: %w", perr.Message, ErrOrderNotFound)
	}
	return err
}

var _ Backend = (*ProviderBackend)(nil)
