package postgres

// Jobs

const jobColumns = `j.id, j.type, j.payload, j.status, j.priority, j.attempts, j.max_attempts,
	j.correlation_id, j.organization_id, j.user_id, j.result, j.error,
	j.next_eligible_at, j.created_at, j.started_at, j.completed_at`

const queryInsertJob = `
INSERT INTO jobs (type, payload, status, priority, attempts, max_attempts, correlation_id,
                  organization_id, user_id, next_eligible_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id
`

// Rows locked by another claimer are skipped, so concurrent workers never
// receive the same job.
const queryClaimNextJob = `
WITH next AS (
    SELECT id FROM jobs
    WHERE status = 'queued' AND next_eligible_at <= $1
    ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'low' THEN 2 ELSE 1 END,
             created_at ASC, id ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
UPDATE jobs j
SET status = 'processing', attempts = j.attempts + 1, started_at = $1
FROM next
WHERE j.id = next.id
RETURNING ` + jobColumns

const queryCompleteJob = `
UPDATE jobs
SET status = 'completed', result = $2, error = '', completed_at = $3
WHERE id = $1 AND status <> ALL($4)
`

const queryRetryJob = `
UPDATE jobs
SET status = 'queued', next_eligible_at = $2, error = $3
WHERE id = $1 AND status <> ALL($4)
`

const queryFailJob = `
UPDATE jobs
SET status = 'failed', error = $2, completed_at = $3
WHERE id = $1 AND status <> ALL($4)
`

const queryCancelJob = `
UPDATE jobs SET status = 'cancelled'
WHERE id = $1 AND status = 'queued'
`

const queryJobExists = `SELECT status FROM jobs WHERE id = $1`

const queryGetJob = `SELECT ` + jobColumns + ` FROM jobs j WHERE j.id = $1`

const queryGetJobByCorrelationID = `SELECT ` + jobColumns + ` FROM jobs j WHERE j.correlation_id = $1`

// A NULL limit means no limit.
const queryRequeueStaleJobs = `
WITH stale AS (
    SELECT id FROM jobs
    WHERE status = 'processing' AND started_at < $1
    ORDER BY started_at ASC
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
UPDATE jobs j
SET status = 'queued', next_eligible_at = $1
FROM stale
WHERE j.id = stale.id
`

const queryInsertJobLog = `
INSERT INTO job_logs (job_id, level, message, context, created_at)
VALUES ($1, $2, $3, $4, $5)
`

// Notification events

const notificationColumns = `id, obligation_id, organization_id, event_type, recipient_user_id,
	channel, status, content, job_id, error, created_at, sent_at`

const queryInsertNotificationEvent = `
INSERT INTO notification_events (obligation_id, organization_id, event_type, recipient_user_id,
                                 channel, status, content, job_id, error, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id
`

const queryAttachNotificationJob = `
UPDATE notification_events SET job_id = $3, status = 'queued'
WHERE organization_id = $1 AND id = $2
`

const queryMarkNotificationSent = `
UPDATE notification_events SET status = 'sent', sent_at = $3, error = ''
WHERE organization_id = $1 AND id = $2
`

const queryMarkNotificationFailed = `
UPDATE notification_events SET status = 'failed', error = $3
WHERE organization_id = $1 AND id = $2
`

const queryGetNotificationEvent = `
SELECT ` + notificationColumns + ` FROM notification_events
WHERE organization_id = $1 AND id = $2
`

const queryListNotificationEvents = `
SELECT ` + notificationColumns + ` FROM notification_events
WHERE organization_id = $1
ORDER BY id ASC
`

// Obligations

const obligationColumns = `id, organization_id, title, due_at, status, reminder_policy_id,
	escalation_policy_id, created_at, updated_at`

const queryEnsureOrganization = `INSERT INTO organizations (id) VALUES ($1) ON CONFLICT DO NOTHING`

const queryListOrganizationIDs = `SELECT id FROM organizations ORDER BY id ASC`

const queryInsertObligation = `
INSERT INTO obligations (organization_id, title, due_at, status, reminder_policy_id,
                         escalation_policy_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id
`

const queryUpsertObligation = `
INSERT INTO obligations (id, organization_id, title, due_at, status, reminder_policy_id,
                         escalation_policy_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
    organization_id = EXCLUDED.organization_id,
    title = EXCLUDED.title,
    due_at = EXCLUDED.due_at,
    status = EXCLUDED.status,
    reminder_policy_id = EXCLUDED.reminder_policy_id,
    escalation_policy_id = EXCLUDED.escalation_policy_id,
    updated_at = EXCLUDED.updated_at
`

const queryGetObligation = `
SELECT ` + obligationColumns + ` FROM obligations
WHERE organization_id = $1 AND id = $2
`

const queryListObligationsDueBetween = `
SELECT ` + obligationColumns + ` FROM obligations
WHERE organization_id = $1 AND due_at IS NOT NULL
  AND due_at >= $2 AND due_at <= $3
  AND status <> ALL($4)
ORDER BY due_at ASC, id ASC
`

const queryListOverdueObligations = `
SELECT ` + obligationColumns + ` FROM obligations
WHERE organization_id = $1 AND due_at IS NOT NULL
  AND due_at < $2
  AND status <> ALL($3)
ORDER BY due_at ASC, id ASC
`

const queryUpdateObligationStatus = `
UPDATE obligations SET status = $3, updated_at = now()
WHERE organization_id = $1 AND id = $2 AND status <> ALL($4)
`

const queryObligationExists = `SELECT status FROM obligations WHERE organization_id = $1 AND id = $2`

const queryInsertAssignment = `
INSERT INTO obligation_assignments (obligation_id, assignee_type, assignee_id)
VALUES ($1, $2, $3)
ON CONFLICT DO NOTHING
`

const queryListAssignments = `
SELECT a.obligation_id, a.assignee_type, a.assignee_id
FROM obligation_assignments a
JOIN obligations o ON o.id = a.obligation_id
WHERE o.organization_id = $1 AND a.obligation_id = $2
ORDER BY a.assignee_type ASC, a.assignee_id ASC
`

const queryInsertObligationAction = `
INSERT INTO obligation_actions (obligation_id, organization_id, action, details, created_at)
VALUES ($1, $2, $3, $4, $5)
`

const queryListObligationActions = `
SELECT id, obligation_id, organization_id, action, details, created_at
FROM obligation_actions
WHERE organization_id = $1 AND obligation_id = $2
ORDER BY id ASC
`

// Policies

const reminderPolicyColumns = `id, organization_id, name, rules, channels, quiet_hours, is_active, is_default`

const queryClearDefaultReminderPolicy = `
UPDATE reminder_policies SET is_default = FALSE
WHERE organization_id = $1 AND is_default AND id <> $2
`

const queryInsertReminderPolicy = `
INSERT INTO reminder_policies (organization_id, name, rules, channels, quiet_hours, is_active, is_default)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id
`

const queryUpdateReminderPolicy = `
UPDATE reminder_policies
SET name = $3, rules = $4, channels = $5, quiet_hours = $6, is_active = $7, is_default = $8
WHERE organization_id = $1 AND id = $2
`

const queryGetReminderPolicy = `
SELECT ` + reminderPolicyColumns + ` FROM reminder_policies
WHERE organization_id = $1 AND id = $2
`

const queryGetDefaultReminderPolicy = `
SELECT ` + reminderPolicyColumns + ` FROM reminder_policies
WHERE organization_id = $1 AND is_default
LIMIT 1
`

const queryInsertEscalationPolicy = `
INSERT INTO escalation_policies (organization_id, name, rules, is_active)
VALUES ($1, $2, $3, $4)
RETURNING id
`

const queryUpdateEscalationPolicy = `
UPDATE escalation_policies SET name = $3, rules = $4, is_active = $5
WHERE organization_id = $1 AND id = $2
`

const queryGetEscalationPolicy = `
SELECT id, organization_id, name, rules, is_active FROM escalation_policies
WHERE organization_id = $1 AND id = $2
`

// Users and teams

const queryInsertUser = `
INSERT INTO users (organization_id, name, email, phone, role)
VALUES ($1, $2, $3, $4, $5)
RETURNING id
`

const queryUpdateUser = `
UPDATE users SET name = $3, email = $4, phone = $5, role = $6
WHERE organization_id = $1 AND id = $2
`

const queryGetUser = `
SELECT id, organization_id, name, email, phone, role FROM users
WHERE organization_id = $1 AND id = $2
`

const queryListUserIDsByRole = `
SELECT id FROM users WHERE organization_id = $1 AND role = $2 ORDER BY id ASC
`

const queryInsertTeamMember = `
INSERT INTO team_members (team_id, user_id, organization_id)
VALUES ($1, $2, $3)
ON CONFLICT DO NOTHING
`

const queryListTeamMemberIDs = `
SELECT user_id FROM team_members
WHERE organization_id = $1 AND team_id = $2
ORDER BY user_id ASC
`
