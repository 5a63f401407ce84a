// Package export runs asynchronous forensic exports: audit history and
// entity track history are serialized to immutable JSON artifacts in a blob
// store for offline review.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"zonecore/internal/blob"
	"zonecore/internal/core"
)

// Kind selects which forensic dataset an export job materializes.
type Kind string

const (
	// KindAuditLog exports the append-only audit history.
	KindAuditLog Kind = "audit_log"
	// KindTrackHistory exports per-entity position snapshot sequences.
	KindTrackHistory Kind = "track_history"
	// KindFull exports both datasets in one job.
	KindFull Kind = "full"
)

// Status describes the lifecycle stage of an export job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Artifact captures a stored export artifact.
type Artifact struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	ETag        string    `json:"etag,omitempty"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Record tracks an export request and its resulting artifacts.
type Record struct {
	ID          string     `json:"id"`
	Kind        Kind       `json:"kind"`
	WindowStart time.Time  `json:"window_start"`
	WindowEnd   time.Time  `json:"window_end"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	RequestedBy string     `json:"requested_by"`
	Reason      string     `json:"reason,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (r Record) copy() Record {
	dup := r
	dup.Artifacts = append([]Artifact(nil), r.Artifacts...)
	return dup
}

// Input represents an enqueue request for the worker.
type Input struct {
	Kind        Kind
	WindowStart time.Time
	WindowEnd   time.Time
	RequestedBy string
	Reason      string
}

// AuditSource supplies audit records for export.
type AuditSource interface {
	AuditRecords(limit int) []core.AuditRecord
}

// TrackSource supplies recorded entity track history for export.
type TrackSource interface {
	EntityIDs() []string
	Snapshots(entityID string) []core.Snapshot[core.TrackedEntity]
}

// Worker executes forensic exports asynchronously against a blob store.
type Worker struct {
	store  blob.Store
	audits AuditSource
	tracks TrackSource

	queue chan task
	mu    sync.RWMutex
	jobs  map[string]*Record

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	nowFn  func() time.Time
}

type task struct {
	id    string
	input Input
}

// NewWorker constructs an export worker over the given sources.
func NewWorker(store blob.Store, audits AuditSource, tracks TrackSource) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		store:  store,
		audits: audits,
		tracks: tracks,
		queue:  make(chan task, 32),
		jobs:   make(map[string]*Record),
		ctx:    ctx,
		cancel: cancel,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// Start begins processing export requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for completion.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case t := <-w.queue:
			w.process(t)
		}
	}
}

// Enqueue schedules an export job and returns the queued record.
func (w *Worker) Enqueue(_ context.Context, input Input) (Record, error) {
	switch input.Kind {
	case KindAuditLog, KindTrackHistory, KindFull:
	default:
		return Record{}, fmt.Errorf("unknown export kind %q", input.Kind)
	}
	if strings.TrimSpace(input.RequestedBy) == "" {
		return Record{}, fmt.Errorf("export requires a requesting actor")
	}
	if !input.WindowEnd.IsZero() && input.WindowEnd.Before(input.WindowStart) {
		return Record{}, fmt.Errorf("export window ends before it starts")
	}

	now := w.nowFn()
	record := Record{
		ID:          uuid.NewString(),
		Kind:        input.Kind,
		WindowStart: input.WindowStart,
		WindowEnd:   input.WindowEnd,
		Status:      StatusQueued,
		RequestedBy: input.RequestedBy,
		Reason:      input.Reason,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	w.jobs[record.ID] = &record
	queued := record.copy()
	w.mu.Unlock()

	select {
	case w.queue <- task{id: record.ID, input: input}:
	default:
		w.fail(record.ID, "export queue full")
		return Record{}, fmt.Errorf("export queue full")
	}
	return queued, nil
}

// Get returns a snapshot of the export record.
func (w *Worker) Get(id string) (Record, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return Record{}, false
	}
	return record.copy(), true
}

func (w *Worker) process(t task) {
	w.setStatus(t.id, StatusRunning, "")

	var artifacts []Artifact
	if t.input.Kind == KindAuditLog || t.input.Kind == KindFull {
		artifact, err := w.exportAudit(t.id, t.input)
		if err != nil {
			w.fail(t.id, err.Error())
			return
		}
		artifacts = append(artifacts, artifact)
	}
	if t.input.Kind == KindTrackHistory || t.input.Kind == KindFull {
		artifact, err := w.exportTracks(t.id, t.input)
		if err != nil {
			w.fail(t.id, err.Error())
			return
		}
		artifacts = append(artifacts, artifact)
	}
	w.complete(t.id, artifacts)
}

func (w *Worker) exportAudit(id string, input Input) (Artifact, error) {
	if w.audits == nil {
		return Artifact{}, fmt.Errorf("audit source not configured")
	}
	var records []core.AuditRecord
	for _, rec := range w.audits.AuditRecords(0) {
		if inWindow(rec.Timestamp, input.WindowStart, input.WindowEnd) {
			records = append(records, rec)
		}
	}
	payload, err := json.Marshal(struct {
		WindowStart time.Time          `json:"window_start"`
		WindowEnd   time.Time          `json:"window_end"`
		Records     []core.AuditRecord `json:"records"`
	}{input.WindowStart, input.WindowEnd, records})
	if err != nil {
		return Artifact{}, fmt.Errorf("marshal audit export: %w", err)
	}
	return w.put(fmt.Sprintf("exports/%s/audit.json", id), payload)
}

func (w *Worker) exportTracks(id string, input Input) (Artifact, error) {
	if w.tracks == nil {
		return Artifact{}, fmt.Errorf("track source not configured")
	}
	history := make(map[string][]core.Snapshot[core.TrackedEntity])
	for _, entityID := range w.tracks.EntityIDs() {
		var kept []core.Snapshot[core.TrackedEntity]
		for _, snap := range w.tracks.Snapshots(entityID) {
			if inWindow(snap.Timestamp, input.WindowStart, input.WindowEnd) {
				kept = append(kept, snap)
			}
		}
		if len(kept) > 0 {
			history[entityID] = kept
		}
	}
	payload, err := json.Marshal(struct {
		WindowStart time.Time                                      `json:"window_start"`
		WindowEnd   time.Time                                      `json:"window_end"`
		Entities    map[string][]core.Snapshot[core.TrackedEntity] `json:"entities"`
	}{input.WindowStart, input.WindowEnd, history})
	if err != nil {
		return Artifact{}, fmt.Errorf("marshal track export: %w", err)
	}
	return w.put(fmt.Sprintf("exports/%s/tracks.json", id), payload)
}

func (w *Worker) put(key string, payload []byte) (Artifact, error) {
	if w.store == nil {
		return Artifact{}, fmt.Errorf("blob store not configured")
	}
	info, err := w.store.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{ContentType: "application/json"})
	if err != nil {
		return Artifact{}, fmt.Errorf("store artifact: %w", err)
	}
	return Artifact{
		Key:         info.Key,
		ContentType: info.ContentType,
		SizeBytes:   info.Size,
		ETag:        info.ETag,
		URL:         info.URL,
		CreatedAt:   info.LastModified,
	}, nil
}

func (w *Worker) setStatus(id string, status Status, message string) {
	now := w.nowFn()
	w.mu.Lock()
	defer w.mu.Unlock()
	if record, ok := w.jobs[id]; ok {
		record.Status = status
		record.Error = message
		record.UpdatedAt = now
	}
}

func (w *Worker) complete(id string, artifacts []Artifact) {
	now := w.nowFn()
	w.mu.Lock()
	defer w.mu.Unlock()
	if record, ok := w.jobs[id]; ok {
		record.Status = StatusSucceeded
		record.Error = ""
		record.Artifacts = artifacts
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
}

func (w *Worker) fail(id, reason string) {
	now := w.nowFn()
	w.mu.Lock()
	defer w.mu.Unlock()
	if record, ok := w.jobs[id]; ok {
		record.Status = StatusFailed
		record.Error = reason
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
}

// inWindow treats zero bounds as open on that side.
func inWindow(ts, start, end time.Time) bool {
	if !start.IsZero() && ts.Before(start) {
		return false
	}
	if !end.IsZero() && ts.After(end) {
		return false
	}
	return true
}
