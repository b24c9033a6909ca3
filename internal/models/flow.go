package models

import (
	"fmt"
	"time"
)

type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

type FlowStep string

const (
	StepMint      FlowStep = "mint"
	StepPublish   FlowStep = "publish"
	StepTrust     FlowStep = "trust"
	StepTransfer  FlowStep = "transfer"
	StepPay       FlowStep = "pay"
	StepSubmit    FlowStep = "submit"
	StepPoll      FlowStep = "poll"
	StepResult    FlowStep = "result"
	StepCompleted FlowStep = "completed"
)

// FlowResult is the outcome of one full flow execution. The identifiers are kept so a
// partially applied run can be inspected, since nothing is rolled back.
type FlowResult struct {
	JobStatus        JobStatus `json:"job_status"`
	Url              string    `json:"url"`
	ArtifactName     string    `json:"artifact_name"`
	DatasetToken     string    `json:"dataset_token"`
	AlgorithmToken   string    `json:"algorithm_token"`
	DatasetDid       string    `json:"dataset_did"`
	AlgorithmDid     string    `json:"algorithm_did"`
	DatasetOrderTx   string    `json:"dataset_order_tx"`
	AlgorithmOrderTx string    `json:"algorithm_order_tx"`
	JobId            string    `json:"job_id"`
	ModelRMSE        float64   `json:"model_rmse"`
}

type FlowRun struct {
	Uuid      string      `json:"uuid"`
	Status    RunStatus   `json:"status"`
	Step      FlowStep    `json:"step"`
	Result    *FlowResult `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type FlowEvent struct {
	RunUuid string    `json:"run_uuid"`
	Step    FlowStep  `json:"step"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Summary is the one-line outcome reported to callers of the synchronous flow.
func (r *FlowResult) Summary() string {
	return fmt.Sprintf("Job Status: %s Result: %s", r.JobStatus, r.Url)
}
