package api

import (
	"fmt"

	"github.com/djlord-it/easy-remind/internal/domain"
)

const (
	maxCorrelationIDLength = 255
	maxJobTypeLength       = 100
	maxAttemptsLimit       = 25
)

func validateEnqueueJob(req EnqueueJobRequest) error {
	if req.Type == "" {
		return fmt.Errorf("type is required")
	}
	if len(req.Type) > maxJobTypeLength {
		return fmt.Errorf("type must be at most %d characters", maxJobTypeLength)
	}

	switch domain.Priority(req.Priority) {
	case "", domain.PriorityHigh, domain.PriorityNormal, domain.PriorityLow:
	default:
		return fmt.Errorf("priority must be one of high, normal, low")
	}

	if len(req.CorrelationID) > maxCorrelationIDLength {
		return fmt.Errorf("correlation_id must be at most %d characters", maxCorrelationIDLength)
	}
	if req.OrganizationID != nil && *req.OrganizationID <= 0 {
		return fmt.Errorf("organization_id must be positive")
	}
	if req.UserID != nil && *req.UserID <= 0 {
		return fmt.Errorf("user_id must be positive")
	}
	if req.MaxAttempts < 0 || req.MaxAttempts > maxAttemptsLimit {
		return fmt.Errorf("max_attempts must be between 1 and %d", maxAttemptsLimit)
	}
	return nil
}
