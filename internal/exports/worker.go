// Package exports renders dataset artifacts asynchronously: the genotype
// matrix as CSV, the population recode proforma as CSV and a dataset summary
// as JSON. Artifacts are archived in blob storage and every job transition
// is audited.
package exports

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"dartcore/internal/blob"
	"dartcore/pkg/domain"
)

// Kind selects one artifact renderer.
type Kind string

const (
	KindGenotypeMatrix Kind = "genotype_matrix"
	KindRecodeProforma Kind = "recode_proforma"
	KindSummary        Kind = "summary"
)

// Status describes the lifecycle stage of an export job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Artifact captures one stored export output.
type Artifact struct {
	Key         string    `json:"key"`
	Kind        Kind      `json:"kind"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Record tracks an export job and its resulting artifacts.
type Record struct {
	ID          string     `json:"id"`
	DatasetID   string     `json:"dataset_id"`
	Kinds       []Kind     `json:"kinds"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	RequestedBy string     `json:"requested_by,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Input is an enqueue request.
type Input struct {
	DatasetID   string
	Kinds       []Kind
	RequestedBy string
	Reason      string
}

// DatasetSource resolves datasets for rendering; *core.Service satisfies it.
type DatasetSource interface {
	GetDataset(id string) (domain.Dataset, error)
}

// AuditLogger records export audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditEntry captures audit trail metadata for export jobs.
type AuditEntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	Actor      string    `json:"actor"`
	DatasetID  string    `json:"dataset_id"`
	Status     Status    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Worker executes export jobs from a bounded queue.
type Worker struct {
	source DatasetSource
	blobs  blob.Store
	audit  AuditLogger

	queue chan task
	mu    sync.RWMutex
	jobs  map[string]*Record

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type task struct {
	id    string
	input Input
}

// NewWorker constructs an export worker over the given dataset source and
// artifact store.
func NewWorker(source DatasetSource, blobs blob.Store, audit AuditLogger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		source: source,
		blobs:  blobs,
		audit:  audit,
		queue:  make(chan task, 32),
		jobs:   make(map[string]*Record),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing export requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for completion or ctx expiry.
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
func (w *Worker) Enqueue(ctx context.Context, input Input) (Record, error) {
	if strings.TrimSpace(input.DatasetID) == "" {
		return Record{}, fmt.Errorf("dataset id required")
	}
	kinds := input.Kinds
	if len(kinds) == 0 {
		kinds = []Kind{KindGenotypeMatrix, KindSummary}
	}
	uniq := make([]Kind, 0, len(kinds))
	seen := make(map[Kind]struct{})
	for _, k := range kinds {
		if _, dup := seen[k]; dup {
			continue
		}
		switch k {
		case KindGenotypeMatrix, KindRecodeProforma, KindSummary:
		default:
			return Record{}, fmt.Errorf("unknown export kind %q", k)
		}
		uniq = append(uniq, k)
		seen[k] = struct{}{}
	}

	now := time.Now().UTC()
	record := Record{
		ID:          newID(),
		DatasetID:   input.DatasetID,
		Kinds:       uniq,
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

	w.recordAudit(ctx, input.RequestedBy, input.DatasetID, StatusQueued, input.Reason)

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

// List returns snapshots of all jobs, newest first not guaranteed.
func (w *Worker) List() []Record {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Record, 0, len(w.jobs))
	for _, record := range w.jobs {
		out = append(out, record.copy())
	}
	return out
}

func (w *Worker) process(t task) {
	w.updateStatus(t.id, StatusRunning, "")

	ds, err := w.source.GetDataset(t.input.DatasetID)
	if err != nil {
		w.fail(t.id, fmt.Sprintf("resolve dataset: %v", err))
		return
	}

	record, ok := w.Get(t.id)
	if !ok {
		return
	}
	artifacts := make([]Artifact, 0, len(record.Kinds))
	for _, kind := range record.Kinds {
		rendered, err := render(kind, ds)
		if err != nil {
			w.fail(t.id, err.Error())
			return
		}
		artifact := Artifact{
			Key:         fmt.Sprintf("exports/%s/%s.%s", t.id, kind, rendered.ext),
			Kind:        kind,
			ContentType: rendered.contentType,
			SizeBytes:   int64(len(rendered.payload)),
			CreatedAt:   time.Now().UTC(),
		}
		if w.blobs != nil {
			info, err := w.blobs.Put(w.ctx, artifact.Key, bytes.NewReader(rendered.payload), blob.PutOptions{
				ContentType: rendered.contentType,
				Metadata:    map[string]string{"dataset": ds.ID, "kind": string(kind)},
			})
			if err != nil {
				w.fail(t.id, fmt.Sprintf("store artifact: %v", err))
				return
			}
			artifact.SizeBytes = info.Size
			artifact.URL = info.URL
		}
		artifacts = append(artifacts, artifact)
	}
	w.complete(t.id, artifacts)
}

func (w *Worker) updateStatus(id string, status Status, message string) {
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = status
		record.Error = message
		record.UpdatedAt = time.Now().UTC()
	}
	w.mu.Unlock()
}

func (w *Worker) complete(id string, artifacts []Artifact) {
	now := time.Now().UTC()
	w.mu.Lock()
	var actor, datasetID, reason string
	if record, ok := w.jobs[id]; ok {
		record.Status = StatusSucceeded
		record.Error = ""
		record.Artifacts = artifacts
		record.UpdatedAt = now
		record.CompletedAt = &now
		actor, datasetID, reason = record.RequestedBy, record.DatasetID, record.Reason
	}
	w.mu.Unlock()
	w.recordAudit(w.ctx, actor, datasetID, StatusSucceeded, reason)
}

func (w *Worker) fail(id, reason string) {
	now := time.Now().UTC()
	w.mu.Lock()
	var actor, datasetID, jobReason string
	if record, ok := w.jobs[id]; ok {
		record.Status = StatusFailed
		record.Error = reason
		record.UpdatedAt = now
		record.CompletedAt = &now
		actor, datasetID, jobReason = record.RequestedBy, record.DatasetID, record.Reason
	}
	w.mu.Unlock()
	w.recordAudit(w.ctx, actor, datasetID, StatusFailed, jobReason)
}

func (w *Worker) recordAudit(ctx context.Context, actor, datasetID string, status Status, reason string) {
	if w.audit == nil {
		return
	}
	w.audit.Record(ctx, AuditEntry{
		ID:         newID(),
		Action:     "dataset_export",
		Actor:      actor,
		DatasetID:  datasetID,
		Status:     status,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	})
}

func (r *Record) copy() Record {
	out := *r
	out.Kinds = append([]Kind(nil), r.Kinds...)
	out.Artifacts = append([]Artifact(nil), r.Artifacts...)
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		out.CompletedAt = &at
	}
	return out
}

func newID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("export-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}

// MemoryAuditLog retains audit entries in memory for inspection.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// Record implements AuditLogger.
func (l *MemoryAuditLog) Record(_ context.Context, entry AuditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a copy of all recorded entries.
func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
