// Package memory implements the transactional in-memory persistent store.
// It is the reference implementation of the domain persistence contract and
// the transaction engine reused by the sqlite and postgres backends.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"dartcore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Dataset aliases domain.Dataset for in-memory persistence operations.
	Dataset = domain.Dataset
	// RecodeTable aliases domain.RecodeTable.
	RecodeTable = domain.RecodeTable
	// ReportFile aliases domain.ReportFile.
	ReportFile = domain.ReportFile
	// Call aliases domain.Call, a single genotype score.
	Call = domain.Call
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
	// PersistentStore aliases domain.PersistentStore abstraction.
	PersistentStore = domain.PersistentStore
)

type memoryState struct {
	datasets map[string]Dataset
	recodes  map[string]RecodeTable
	reports  map[string]ReportFile
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Datasets map[string]Dataset     `json:"datasets"`
	Recodes  map[string]RecodeTable `json:"recodes"`
	Reports  map[string]ReportFile  `json:"reports"`
}

func newMemoryState() memoryState {
	return memoryState{
		datasets: make(map[string]Dataset),
		recodes:  make(map[string]RecodeTable),
		reports:  make(map[string]ReportFile),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	snap := Snapshot{
		Datasets: make(map[string]Dataset, len(state.datasets)),
		Recodes:  make(map[string]RecodeTable, len(state.recodes)),
		Reports:  make(map[string]ReportFile, len(state.reports)),
	}
	for id, ds := range state.datasets {
		snap.Datasets[id] = ds.Clone()
	}
	for id, rt := range state.recodes {
		snap.Recodes[id] = rt.Clone()
	}
	for id, rf := range state.reports {
		snap.Reports[id] = rf
	}
	return snap
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for id, ds := range s.Datasets {
		state.datasets[id] = ds.Clone()
	}
	for id, rt := range s.Recodes {
		state.recodes[id] = rt.Clone()
	}
	for id, rf := range s.Reports {
		state.reports[id] = rf
	}
	return state
}

func (s memoryState) clone() memoryState {
	out := newMemoryState()
	for id, ds := range s.datasets {
		out.datasets[id] = ds.Clone()
	}
	for id, rt := range s.recodes {
		out.recodes[id] = rt.Clone()
	}
	for id, rf := range s.reports {
		out.reports[id] = rf
	}
	return out
}

// Store holds the process-local state guarded by a read-write mutex.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// SetNowFunc overrides the time provider, mainly for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListDatasets returns all datasets within the transaction snapshot.
func (v transactionView) ListDatasets() []Dataset {
	out := make([]Dataset, 0, len(v.state.datasets))
	for _, ds := range v.state.datasets {
		out = append(out, ds.Clone())
	}
	sortDatasets(out)
	return out
}

// ListRecodeTables returns all recode tables within the transaction snapshot.
func (v transactionView) ListRecodeTables() []RecodeTable {
	out := make([]RecodeTable, 0, len(v.state.recodes))
	for _, rt := range v.state.recodes {
		out = append(out, rt.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListReportFiles returns all report provenance records within the snapshot.
func (v transactionView) ListReportFiles() []ReportFile {
	out := make([]ReportFile, 0, len(v.state.reports))
	for _, rf := range v.state.reports {
		out = append(out, rf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindDataset locates a dataset by ID within the snapshot.
func (v transactionView) FindDataset(id string) (Dataset, bool) {
	ds, ok := v.state.datasets[id]
	if !ok {
		return Dataset{}, false
	}
	return ds.Clone(), true
}

// FindRecodeTable locates a recode table by ID within the snapshot.
func (v transactionView) FindRecodeTable(id string) (RecodeTable, bool) {
	rt, ok := v.state.recodes[id]
	if !ok {
		return RecodeTable{}, false
	}
	return rt.Clone(), true
}

// FindReportFile locates a report record by ID within the snapshot.
func (v transactionView) FindReportFile(id string) (ReportFile, bool) {
	rf, ok := v.state.reports[id]
	return rf, ok
}

func sortDatasets(datasets []Dataset) {
	sort.Slice(datasets, func(i, j int) bool { return datasets[i].ID < datasets[j].ID })
}

// RunInTransaction clones the state, applies fn, evaluates rules against the
// candidate state, and commits unless a blocking violation or error occurred.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot exposes the transactional state as a read-only view.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindDataset locates a dataset inside the transaction state.
func (tx *transaction) FindDataset(id string) (Dataset, bool) {
	ds, ok := tx.state.datasets[id]
	if !ok {
		return Dataset{}, false
	}
	return ds.Clone(), true
}

// FindRecodeTable locates a recode table inside the transaction state.
func (tx *transaction) FindRecodeTable(id string) (RecodeTable, bool) {
	rt, ok := tx.state.recodes[id]
	if !ok {
		return RecodeTable{}, false
	}
	return rt.Clone(), true
}

// CreateDataset stores a new dataset.
func (tx *transaction) CreateDataset(ds Dataset) (Dataset, error) {
	if ds.ID == "" {
		ds.ID = tx.store.newID()
	}
	if _, exists := tx.state.datasets[ds.ID]; exists {
		return Dataset{}, fmt.Errorf("dataset %q already exists", ds.ID)
	}
	ds.CreatedAt = tx.now
	ds.UpdatedAt = tx.now
	tx.state.datasets[ds.ID] = ds.Clone()
	tx.recordChange(Change{Entity: domain.EntityDataset, Action: domain.ActionCreate, After: ds.Clone()})
	return ds.Clone(), nil
}

// UpdateDataset mutates a dataset using the provided mutator function.
func (tx *transaction) UpdateDataset(id string, mutator func(*Dataset) error) (Dataset, error) {
	current, ok := tx.state.datasets[id]
	if !ok {
		return Dataset{}, fmt.Errorf("dataset %q not found", id)
	}
	before := current.Clone()
	working := current.Clone()
	if err := mutator(&working); err != nil {
		return Dataset{}, err
	}
	working.ID = id
	working.UpdatedAt = tx.now
	tx.state.datasets[id] = working.Clone()
	tx.recordChange(Change{Entity: domain.EntityDataset, Action: domain.ActionUpdate, Before: before, After: working.Clone()})
	return working.Clone(), nil
}

// DeleteDataset removes a dataset from the transaction state.
func (tx *transaction) DeleteDataset(id string) error {
	current, ok := tx.state.datasets[id]
	if !ok {
		return fmt.Errorf("dataset %q not found", id)
	}
	for _, rt := range tx.state.recodes {
		if rt.DatasetID == id {
			return fmt.Errorf("dataset %q still referenced by recode table %q", id, rt.ID)
		}
	}
	delete(tx.state.datasets, id)
	tx.recordChange(Change{Entity: domain.EntityDataset, Action: domain.ActionDelete, Before: current.Clone()})
	return nil
}

// CreateRecodeTable stores a new recode table.
func (tx *transaction) CreateRecodeTable(rt RecodeTable) (RecodeTable, error) {
	if rt.ID == "" {
		rt.ID = tx.store.newID()
	}
	if _, exists := tx.state.recodes[rt.ID]; exists {
		return RecodeTable{}, fmt.Errorf("recode table %q already exists", rt.ID)
	}
	if rt.DatasetID != "" {
		if _, ok := tx.state.datasets[rt.DatasetID]; !ok {
			return RecodeTable{}, fmt.Errorf("recode table references unknown dataset %q", rt.DatasetID)
		}
	}
	rt.CreatedAt = tx.now
	rt.UpdatedAt = tx.now
	tx.state.recodes[rt.ID] = rt.Clone()
	tx.recordChange(Change{Entity: domain.EntityRecodeTable, Action: domain.ActionCreate, After: rt.Clone()})
	return rt.Clone(), nil
}

// UpdateRecodeTable mutates a recode table using the provided mutator function.
func (tx *transaction) UpdateRecodeTable(id string, mutator func(*RecodeTable) error) (RecodeTable, error) {
	current, ok := tx.state.recodes[id]
	if !ok {
		return RecodeTable{}, fmt.Errorf("recode table %q not found", id)
	}
	before := current.Clone()
	working := current.Clone()
	if err := mutator(&working); err != nil {
		return RecodeTable{}, err
	}
	working.ID = id
	working.UpdatedAt = tx.now
	tx.state.recodes[id] = working.Clone()
	tx.recordChange(Change{Entity: domain.EntityRecodeTable, Action: domain.ActionUpdate, Before: before, After: working.Clone()})
	return working.Clone(), nil
}

// DeleteRecodeTable removes a recode table from the transaction state.
func (tx *transaction) DeleteRecodeTable(id string) error {
	current, ok := tx.state.recodes[id]
	if !ok {
		return fmt.Errorf("recode table %q not found", id)
	}
	delete(tx.state.recodes, id)
	tx.recordChange(Change{Entity: domain.EntityRecodeTable, Action: domain.ActionDelete, Before: current.Clone()})
	return nil
}

// CreateReportFile stores a new report provenance record.
func (tx *transaction) CreateReportFile(rf ReportFile) (ReportFile, error) {
	if rf.ID == "" {
		rf.ID = tx.store.newID()
	}
	if _, exists := tx.state.reports[rf.ID]; exists {
		return ReportFile{}, fmt.Errorf("report file %q already exists", rf.ID)
	}
	rf.CreatedAt = tx.now
	rf.UpdatedAt = tx.now
	tx.state.reports[rf.ID] = rf
	tx.recordChange(Change{Entity: domain.EntityReportFile, Action: domain.ActionCreate, After: rf})
	return rf, nil
}

// DeleteReportFile removes a report record from the transaction state.
func (tx *transaction) DeleteReportFile(id string) error {
	current, ok := tx.state.reports[id]
	if !ok {
		return fmt.Errorf("report file %q not found", id)
	}
	for _, ds := range tx.state.datasets {
		if ds.ReportID != nil && *ds.ReportID == id {
			return fmt.Errorf("report file %q still referenced by dataset %q", id, ds.ID)
		}
	}
	delete(tx.state.reports, id)
	tx.recordChange(Change{Entity: domain.EntityReportFile, Action: domain.ActionDelete, Before: current})
	return nil
}

// GetDataset returns a dataset by ID from committed state.
func (s *Store) GetDataset(id string) (Dataset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.state.datasets[id]
	if !ok {
		return Dataset{}, false
	}
	return ds.Clone(), true
}

// ListDatasets returns all committed datasets ordered by ID.
func (s *Store) ListDatasets() []Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Dataset, 0, len(s.state.datasets))
	for _, ds := range s.state.datasets {
		out = append(out, ds.Clone())
	}
	sortDatasets(out)
	return out
}

// GetRecodeTable returns a recode table by ID from committed state.
func (s *Store) GetRecodeTable(id string) (RecodeTable, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rt, ok := s.state.recodes[id]
	if !ok {
		return RecodeTable{}, false
	}
	return rt.Clone(), true
}

// ListRecodeTables returns all committed recode tables ordered by ID.
func (s *Store) ListRecodeTables() []RecodeTable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RecodeTable, 0, len(s.state.recodes))
	for _, rt := range s.state.recodes {
		out = append(out, rt.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetReportFile returns a report record by ID from committed state.
func (s *Store) GetReportFile(id string) (ReportFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rf, ok := s.state.reports[id]
	return rf, ok
}

// ListReportFiles returns all committed report records ordered by ID.
func (s *Store) ListReportFiles() []ReportFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ReportFile, 0, len(s.state.reports))
	for _, rf := range s.state.reports {
		out = append(out, rf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
