package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBillingRun generates recurring assessment charges.
	TaskBillingRun = "billing:run"
	// TaskLateFeeScan applies late fees to overdue charges.
	TaskLateFeeScan = "latefee:scan"
	// TaskLedgerReconcile verifies account balance caches against posted lines.
	TaskLedgerReconcile = "ledger:reconcile"
)

// TenantPayload targets one association, or every association when
// AssociationID is zero (the scheduled cron case).
type TenantPayload struct {
	OrganizationID int64     `json:"organization_id,omitempty"`
	AssociationID  int64     `json:"association_id,omitempty"`
	AsOf           time.Time `json:"as_of,omitempty"`
}

// NewBillingRunTask constructs a billing cycle task.
func NewBillingRunTask(payload TenantPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBillingRun, data, asynq.Queue(QueueDefault)), nil
}

// NewLateFeeScanTask constructs a late fee scan task.
func NewLateFeeScanTask(payload TenantPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLateFeeScan, data, asynq.Queue(QueueDefault)), nil
}

// NewLedgerReconcileTask constructs a reconciliation task.
func NewLedgerReconcileTask(payload TenantPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, data, asynq.Queue(QueueDefault)), nil
}
