package workflow

import (
	"fmt"
	"strings"
)

type ApplicationStatus string

const (
	ApplicationApplied            ApplicationStatus = "APPLIED"
	ApplicationPending            ApplicationStatus = "PENDING"
	ApplicationUnderReview        ApplicationStatus = "UNDER_REVIEW"
	ApplicationInterviewScheduled ApplicationStatus = "INTERVIEW_SCHEDULED"
	ApplicationAccepted           ApplicationStatus = "ACCEPTED"
	ApplicationRejected           ApplicationStatus = "REJECTED"
)

func AllApplicationStatuses() []ApplicationStatus {
	return []ApplicationStatus{
		ApplicationApplied,
		ApplicationPending,
		ApplicationUnderReview,
		ApplicationInterviewScheduled,
		ApplicationAccepted,
		ApplicationRejected,
	}
}

// ParseApplicationStatus accepts any case and spaces in place of underscores.
func ParseApplicationStatus(raw string) (ApplicationStatus, error) {
	normalized := ApplicationStatus(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), " ", "_")))
	for _, s := range AllApplicationStatuses() {
		if s == normalized {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown application status %q", raw)
}

func (s ApplicationStatus) Terminal() bool {
	return s == ApplicationAccepted || s == ApplicationRejected
}

type JobStatus string

const (
	JobOpen     JobStatus = "OPEN"
	JobApproved JobStatus = "APPROVED"
	JobClosed   JobStatus = "CLOSED"
)

func ParseJobStatus(raw string) (JobStatus, error) {
	switch s := JobStatus(strings.ToUpper(strings.TrimSpace(raw))); s {
	case JobOpen, JobApproved, JobClosed:
		return s, nil
	}
	return "", fmt.Errorf("unknown job status %q", raw)
}
