package compute

import (
	"context"
	"time"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-c2d-flow/internal/models"
	"github.com/lagrangedao/go-c2d-flow/wallet"
	"golang.org/x/xerrors"
)

// PollPolicy bounds how long and how often a job status is polled. The wait between
// polls starts at Interval and grows by Multiplier up to MaxInterval. Polling stops after
// MaxAttempts polls or once Timeout has elapsed, whichever comes first; zero disables a
// bound.
type PollPolicy struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Multiplier  float64
	MaxAttempts int
	Timeout     time.Duration
}

func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Interval:    30 * time.Second,
		MaxInterval: 2 * time.Minute,
		Multiplier:  1.5,
		Timeout:     30 * time.Minute,
	}
}

func (p PollPolicy) next(wait time.Duration) time.Duration {
	if p.Multiplier > 1 {
		wait = time.Duration(float64(wait) * p.Multiplier)
	}
	if p.MaxInterval > 0 && wait > p.MaxInterval {
		wait = p.MaxInterval
	}
	return wait
}

// WaitForJob polls the job until it succeeds or fails. onStatus, when set, sees every
// polled status. A failed job returns its status together with ErrJobFailed.
func WaitForJob(ctx context.Context, backend Backend, did, jobId string, consumer *wallet.Identity,
	policy PollPolicy, onStatus func(models.JobStatus)) (*models.JobStatus, error) {
	if policy.MaxAttempts <= 0 && policy.Timeout <= 0 {
		return nil, xerrors.New("poll policy needs an attempt cap or a timeout")
	}
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}

	wait := policy.Interval
	var last *models.JobStatus
	for attempt := 1; policy.MaxAttempts <= 0 || attempt <= policy.MaxAttempts; attempt++ {
		status, err := backend.Status(ctx, did, jobId, consumer)
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				break
			}
			return last, err
		}
		last = status
		logs.GetLogger().Infof("job %s poll %d: %s", jobId, attempt, status)
		if onStatus != nil {
			onStatus(*status)
		}

		switch status.State {
		case models.JobSucceeded:
			return status, nil
		case models.JobFailed:
			return status, xerrors.Errorf("job %s: %s: %w", jobId, status.StatusText, ErrJobFailed)
		}
		if policy.MaxAttempts > 0 && attempt == policy.MaxAttempts {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			if ctx.Err() == context.DeadlineExceeded {
				return last, xerrors.Errorf("job %s after %d polls: %w", jobId, attempt, ErrPollTimeout)
			}
			return last, ctx.Err()
		case <-timer.C:
		}
		wait = policy.next(wait)
	}
	return last, xerrors.Errorf("job %s: %w", jobId, ErrPollTimeout)
}
