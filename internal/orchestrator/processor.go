package orchestrator

import (
	"context"
	"fmt"

	"github.com/djlord-it/easy-remind/internal/domain"
	"github.com/djlord-it/easy-remind/internal/processor"
)

// Processor handles reminder_processing jobs. The payload names exactly one
// organization.
func (o *Orchestrator) Processor() processor.Processor {
	return processor.Func(func(ctx context.Context, job domain.Job) processor.Outcome {
		orgID, err := processor.Int64Field(job.Payload, "organization_id")
		if err != nil {
			return processor.PermanentFailure(err)
		}
		if job.OrganizationID != nil && *job.OrganizationID != orgID {
			return processor.PermanentFailure(fmt.Errorf("payload organization %d does not match job organization %d", orgID, *job.OrganizationID))
		}

		res, err := o.ProcessReminders(ctx, orgID)
		if err != nil {
			return processor.Failure(err)
		}
		return processor.Success(map[string]any{
			"processed":       res.Processed,
			"remindersSent":   res.RemindersSent,
			"escalationsSent": res.EscalationsSent,
			"failed":          res.Failed,
		})
	})
}
