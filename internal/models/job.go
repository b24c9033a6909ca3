package models

import "fmt"

type JobState string

const (
	JobSubmitted JobState = "submitted"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

type JobResult struct {
	Index    int    `json:"index"`
	Filename string `json:"filename"`
	Type     string `json:"type"`
}

type JobStatus struct {
	JobId      string      `json:"job_id"`
	Did        string      `json:"did"`
	State      JobState    `json:"state"`
	StatusCode int         `json:"status_code"`
	StatusText string      `json:"status_text"`
	Results    []JobResult `json:"results,omitempty"`
}

func (s JobStatus) String() string {
	if s.StatusText == "" {
		return string(s.State)
	}
	return fmt.Sprintf("%s (%s)", s.State, s.StatusText)
}

// Provider status codes. 31 and 32 are the only failures, 30 is a successful
// provisioning step.
const (
	CodeWarmingUp           = 1
	CodeConfiguringVolumes  = 10
	CodeProvisioning        = 20
	CodeDataProvisioned     = 30
	CodeDataProvisionFailed = 31
	CodeAlgoProvisionFailed = 32
	CodeRunningAlgorithm    = 40
	CodeFilteringResults    = 50
	CodePublishingResults   = 60
	CodeJobFinished         = 70
)

// JobStateFromCode maps provider status codes onto the job lifecycle.
func JobStateFromCode(code int) JobState {
	switch {
	case code == CodeJobFinished:
		return JobSucceeded
	case code == CodeDataProvisionFailed || code == CodeAlgoProvisionFailed:
		return JobFailed
	case code >= CodeDataProvisioned:
		return JobRunning
	}
	return JobSubmitted
}
