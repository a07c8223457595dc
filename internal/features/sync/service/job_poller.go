package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"robolabs-sync/internal/core/logger"
	"robolabs-sync/internal/features/sync/domain"
	"robolabs-sync/internal/features/sync/ports"

	"go.uber.org/zap"
)

// JobPoller tracks asynchronous invoice-creation jobs on the RoboLabs side
// and finishes the order's state transition once the job completes.
type JobPoller struct {
	api      ports.APIClient
	store    ports.OrderStore
	tasks    ports.TaskScheduler
	interval time.Duration
}

func NewJobPoller(api ports.APIClient, store ports.OrderStore, tasks ports.TaskScheduler, interval time.Duration) *JobPoller {
	return &JobPoller{
		api:      api,
		store:    store,
		tasks:    tasks,
		interval: interval,
	}
}

// jobStatus is the apiJob record. Completion is signalled inconsistently:
// some deployments set status, others carry a state collection.
type jobStatus struct {
	Status string   `json:"status"`
	State  []string `json:"state"`
	Result struct {
		InvoiceID json.Number `json:"invoice_id"`
	} `json:"result"`
	ResponseData json.RawMessage `json:"response_data"`
}

func (j jobStatus) complete() bool {
	if strings.EqualFold(j.Status, "completed") {
		return true
	}
	for _, s := range j.State {
		switch strings.ToLower(s) {
		case "done", "completed", "success":
			return true
		}
	}
	return false
}

// Poll checks one job. An unreachable or still-running job re-enqueues the
// poll; a completed job records the invoice on the order.
func (p *JobPoller) Poll(ctx context.Context, jobID string, orderID int64) error {
	res := p.api.Get(ctx, "apiJob/"+jobID, nil)
	if !res.OK() {
		// Transient by assumption. The job is remote state that does not
		// expire, so keep polling rather than failing the order.
		logger.Get().Warn("Job status check failed, will poll again",
			zap.String("job_id", jobID),
			zap.Int64("order_id", orderID),
			zap.String("error", res.Message),
		)
		p.tasks.ScheduleJobPoll(jobID, orderID, p.interval)
		return nil
	}

	var job jobStatus
	if err := res.Decode(&job); err != nil {
		return fmt.Errorf("decoding job %s: %w", jobID, err)
	}

	if !job.complete() {
		logger.Get().Debug("Job still running",
			zap.String("job_id", jobID),
			zap.Int64("order_id", orderID),
		)
		p.tasks.ScheduleJobPoll(jobID, orderID, p.interval)
		return nil
	}

	invoiceID := job.Result.InvoiceID.String()
	if invoiceID == "" {
		invoiceID = invoiceIDFromResponseData(job.ResponseData)
	}
	if invoiceID == "" {
		// The job finished but no invoice id could be extracted. Leave the
		// pending job on the order so a manual resync can recover it; an
		// order is never marked synced without an invoice id.
		logger.Get().Warn("Job completed without an invoice id",
			zap.String("job_id", jobID),
			zap.Int64("order_id", orderID),
			zap.ByteString("response_data", job.ResponseData),
		)
		return nil
	}

	state, err := p.store.SyncState(ctx, orderID)
	if err != nil {
		return fmt.Errorf("loading sync state: %w", err)
	}

	state.Status = domain.SyncStatusSynced
	state.InvoiceRemoteID = invoiceID
	state.LastError = ""
	state.LastSyncAt = time.Now().UTC()
	state.PendingJobID = ""

	if err := p.store.SaveSyncState(ctx, orderID, state); err != nil {
		return fmt.Errorf("saving synced state: %w", err)
	}

	if err := p.store.AddOrderNote(ctx, orderID, "RoboLabs invoice synced: "+invoiceID); err != nil {
		logger.Get().Warn("Failed to add order note", zap.Int64("order_id", orderID), zap.Error(err))
	}

	logger.Get().Info("Invoice job completed",
		zap.String("job_id", jobID),
		zap.Int64("order_id", orderID),
		zap.String("invoice_id", invoiceID),
	)
	return nil
}

// invoiceIDFromResponseData digs the invoice id out of the job's response
// payload. The field arrives either as a JSON object or as a string holding
// JSON, sometimes single-quoted.
func invoiceIDFromResponseData(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	type payload struct {
		InvoiceID json.Number `json:"invoice_id"`
		ID        json.Number `json:"id"`
	}

	extract := func(data []byte) string {
		var p payload
		if err := json.Unmarshal(data, &p); err != nil {
			return ""
		}
		if p.InvoiceID.String() != "" {
			return p.InvoiceID.String()
		}
		return p.ID.String()
	}

	if id := extract(raw); id != "" {
		return id
	}

	var embedded string
	if err := json.Unmarshal(raw, &embedded); err != nil {
		return ""
	}

	if id := extract([]byte(embedded)); id != "" {
		return id
	}
	// Some job payloads arrive single-quoted.
	return extract([]byte(strings.ReplaceAll(embedded, "'", `"`)))
}
