package rembg

import (
	"fmt"
	"strings"
	"time"
)

type JobState string

const (
	JobSubmitted  JobState = "submitted"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// parseItemState maps a provider status string. Unknown values are rejected
// rather than guessed.
func parseItemState(s string) (JobState, error) {
	switch strings.ToLower(s) {
	case "queued", "pending", "submitted":
		return JobSubmitted, nil
	case "processing", "running":
		return JobProcessing, nil
	case "completed", "done", "succeeded":
		return JobCompleted, nil
	case "failed", "error":
		return JobFailed, nil
	default:
		return "", fmt.Errorf("unknown item status %q", s)
	}
}

type JobItem struct {
	ID    string
	State JobState
	Error string
}

// RemovalJob tracks one submitted batch. It is owned by the goroutine polling
// it and is never shared.
type RemovalJob struct {
	ID       string
	Items    []JobItem
	State    JobState
	Created  time.Time
	Deadline time.Time
	Polls    int
}

func newRemovalJob(resp batchResponse, created time.Time, deadline time.Duration) *RemovalJob {
	job := &RemovalJob{
		ID:       resp.BatchID,
		State:    JobSubmitted,
		Created:  created,
		Deadline: created.Add(deadline),
	}
	for _, item := range resp.Items {
		job.Items = append(job.Items, JobItem{ID: item.ID, State: JobSubmitted})
	}
	return job
}

// apply records a status report. The job completes once every item reached a
// terminal state and fails if any of them failed.
func (j *RemovalJob) apply(status batchStatus) error {
	j.Polls++
	reported := make(map[string]batchItem, len(status.Items))
	for _, item := range status.Items {
		reported[item.ID] = item
	}

	terminal, failed := 0, 0
	for i := range j.Items {
		item, ok := reported[j.Items[i].ID]
		if !ok {
			return fmt.Errorf("status report is missing item %s", j.Items[i].ID)
		}
		state, err := parseItemState(item.Status)
		if err != nil {
			return err
		}
		j.Items[i].State = state
		j.Items[i].Error = item.Error

		if state.Terminal() {
			terminal++
		}
		if state == JobFailed {
			failed++
		}
	}

	switch {
	case terminal < len(j.Items):
		j.State = JobProcessing
	case failed > 0:
		j.State = JobFailed
	default:
		j.State = JobCompleted
	}
	return nil
}

// failure describes the first failed item.
func (j *RemovalJob) failure() string {
	for _, item := range j.Items {
		if item.State == JobFailed {
			if item.Error != "" {
				return fmt.Sprintf("item %s failed: %s", item.ID, item.Error)
			}
			return fmt.Sprintf("item %s failed", item.ID)
		}
	}
	return "job failed"
}
