package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"time"

	"dartcore/internal/blob"
	"dartcore/internal/dart"
)

// Service exposes the transactional dataset operations: import, call-rate
// filtering, monomorph removal and population recoding.
type Service struct {
	store   PersistentStore
	blobs   blob.Store
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithBlobStore attaches the object store holding raw reports and artifacts.
func WithBlobStore(store blob.Store) Option { return func(s *Service) { s.blobs = store } }

// WithLogger sets the service logger.
func WithLogger(l Logger) Option { return func(s *Service) { s.logger = l } }

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option { return func(s *Service) { s.metrics = m } }

// WithTracer sets the tracer.
func WithTracer(t Tracer) Option { return func(s *Service) { s.tracer = t } }

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	s := &Service{store: store, logger: noopLogger{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore { return s.store }

// Blobs returns the attached object store, nil when none is configured.
func (s *Service) Blobs() blob.Store { return s.blobs }

// ErrNotFound is returned when an operation references a missing entity.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// CreateDataset persists a new dataset.
func (s *Service) CreateDataset(ctx context.Context, dataset Dataset) (Dataset, Result, error) {
	done := s.observe(ctx, "create_dataset")
	var created Dataset
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		created, err = tx.CreateDataset(dataset)
		return err
	})
	done(err)
	return created, res, err
}

// DeleteDataset removes a dataset.
func (s *Service) DeleteDataset(ctx context.Context, id string) (Result, error) {
	done := s.observe(ctx, "delete_dataset")
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		return tx.DeleteDataset(id)
	})
	done(err)
	return res, err
}

// GetDataset fetches a dataset by ID.
func (s *Service) GetDataset(id string) (Dataset, error) {
	ds, ok := s.store.GetDataset(id)
	if !ok {
		return Dataset{}, ErrNotFound{Entity: EntityDataset, ID: id}
	}
	return ds, nil
}

// GetRecodeTable fetches a recode table by ID.
func (s *Service) GetRecodeTable(id string) (RecodeTable, error) {
	rt, ok := s.store.GetRecodeTable(id)
	if !ok {
		return RecodeTable{}, ErrNotFound{Entity: EntityRecodeTable, ID: id}
	}
	return rt, nil
}

// GetReportFile fetches a report provenance record by ID.
func (s *Service) GetReportFile(id string) (ReportFile, error) {
	rf, ok := s.store.GetReportFile(id)
	if !ok {
		return ReportFile{}, ErrNotFound{Entity: EntityReportFile, ID: id}
	}
	return rf, nil
}

// ListDatasets returns all datasets sorted by ID.
func (s *Service) ListDatasets() []Dataset { return s.store.ListDatasets() }

// ListRecodeTables returns all recode tables sorted by ID.
func (s *Service) ListRecodeTables() []RecodeTable { return s.store.ListRecodeTables() }

// ListReportFiles returns all report records sorted by ID.
func (s *Service) ListReportFiles() []ReportFile { return s.store.ListReportFiles() }

// ImportRequest describes one DArT report import.
type ImportRequest struct {
	// DatasetName names the resulting dataset; required.
	DatasetName string
	// FileName is the original report file name used for the blob key.
	FileName string
	// Report is the raw report CSV.
	Report io.Reader
	// Options select the layout and parsing overrides; Options.Format is
	// required.
	Options dart.ReportOptions
	// IndividualMetadata optionally carries the external metadata CSV to
	// merge by sample ID.
	IndividualMetadata io.Reader
}

// ImportResult bundles the entities created by an import together with the
// metadata merge outcome.
type ImportResult struct {
	Dataset Dataset
	Report  ReportFile
	Merge   dart.MergeSummary
}

// ImportReport parses a DArT report, optionally merges individual metadata,
// archives the raw bytes in blob storage and persists the dataset with its
// provenance record in one transaction.
func (s *Service) ImportReport(ctx context.Context, req ImportRequest) (ImportResult, Result, error) {
	done := s.observe(ctx, "import_report")
	out, res, err := s.importReport(ctx, req)
	done(err)
	return out, res, err
}

func (s *Service) importReport(ctx context.Context, req ImportRequest) (ImportResult, Result, error) {
	if req.DatasetName == "" {
		return ImportResult{}, Result{}, fmt.Errorf("dataset name required")
	}
	if req.Report == nil {
		return ImportResult{}, Result{}, fmt.Errorf("report reader required")
	}
	raw, err := io.ReadAll(req.Report)
	if err != nil {
		return ImportResult{}, Result{}, fmt.Errorf("read report: %w", err)
	}
	parsed, err := dart.ParseReport(bytes.NewReader(raw), req.Options)
	if err != nil {
		return ImportResult{}, Result{}, err
	}
	dataset := parsed.Dataset(req.DatasetName)

	var merge dart.MergeSummary
	if req.IndividualMetadata != nil {
		rows, err := dart.ParseIndividualMetadata(req.IndividualMetadata)
		if err != nil {
			return ImportResult{}, Result{}, err
		}
		merge, err = dart.MergeIndividualMetadata(&dataset, rows)
		if err != nil {
			return ImportResult{}, Result{}, err
		}
		if len(merge.UnmatchedRows) > 0 {
			s.logger.Warn("metadata rows without dataset samples", "dataset", req.DatasetName, "samples", merge.UnmatchedRows)
		}
		if len(merge.UnmatchedSamples) > 0 {
			s.logger.Warn("dataset samples without metadata", "dataset", req.DatasetName, "samples", merge.UnmatchedSamples)
		}
	}

	report := ReportFile{
		Name:           req.DatasetName,
		Format:         req.Options.Format,
		SizeBytes:      int64(len(raw)),
		NumLoci:        dataset.NumLoci(),
		NumIndividuals: dataset.NumIndividuals(),
	}
	if s.blobs != nil {
		fileName := req.FileName
		if fileName == "" {
			fileName = "report.csv"
		}
		key := path.Join("reports", fmt.Sprintf("%s-%d", req.DatasetName, time.Now().UnixNano()), fileName)
		info, err := s.blobs.Put(ctx, key, bytes.NewReader(raw), blob.PutOptions{
			ContentType: "text/csv",
			Metadata:    map[string]string{"dataset": req.DatasetName, "format": string(req.Options.Format)},
		})
		if err != nil {
			return ImportResult{}, Result{}, fmt.Errorf("archive report: %w", err)
		}
		report.BlobKey = info.Key
	}

	var out ImportResult
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		created, err := tx.CreateReportFile(report)
		if err != nil {
			return err
		}
		dataset.ReportID = &created.ID
		ds, err := tx.CreateDataset(dataset)
		if err != nil {
			return err
		}
		out = ImportResult{Dataset: ds, Report: created, Merge: merge}
		return nil
	})
	if err != nil {
		return ImportResult{}, res, err
	}
	s.logger.Info("report imported", "dataset", out.Dataset.ID, "loci", out.Dataset.NumLoci(), "individuals", out.Dataset.NumIndividuals())
	return out, res, nil
}

func validThreshold(threshold float64) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("call-rate threshold %v outside [0,1]", threshold)
	}
	return nil
}

// FilterLociByCallRate drops every locus whose call rate is below threshold,
// keeping locus metadata aligned and recomputing per-locus metrics.
func (s *Service) FilterLociByCallRate(ctx context.Context, datasetID string, threshold float64) (Dataset, Result, error) {
	done := s.observe(ctx, "filter_loci")
	ds, res, err := s.updateDataset(ctx, datasetID, func(ds *Dataset) error {
		if err := validThreshold(threshold); err != nil {
			return err
		}
		dropLoci(ds, func(j int) bool { return ds.LocusCallRate(j) < threshold })
		return nil
	})
	done(err)
	return ds, res, err
}

// FilterIndividualsByCallRate drops every individual whose call rate is below
// threshold. Locus metrics are recomputed against the survivors; when
// removeMonomorphs is set, loci left without variation are dropped too.
func (s *Service) FilterIndividualsByCallRate(ctx context.Context, datasetID string, threshold float64, removeMonomorphs bool) (Dataset, Result, error) {
	done := s.observe(ctx, "filter_individuals")
	ds, res, err := s.updateDataset(ctx, datasetID, func(ds *Dataset) error {
		if err := validThreshold(threshold); err != nil {
			return err
		}
		dropIndividuals(ds, func(i int) bool { return ds.IndividualCallRate(i) < threshold })
		if removeMonomorphs {
			dropLoci(ds, ds.IsMonomorphic)
		}
		return nil
	})
	done(err)
	return ds, res, err
}

// RemoveMonomorphicLoci drops loci with no variation among their non-missing
// calls, including all-missing loci.
func (s *Service) RemoveMonomorphicLoci(ctx context.Context, datasetID string) (Dataset, Result, error) {
	done := s.observe(ctx, "remove_monomorphs")
	ds, res, err := s.updateDataset(ctx, datasetID, func(ds *Dataset) error {
		dropLoci(ds, ds.IsMonomorphic)
		return nil
	})
	done(err)
	return ds, res, err
}

// GenerateRecodeProforma creates an editable recode table listing each
// current population once, mapped to itself.
func (s *Service) GenerateRecodeProforma(ctx context.Context, datasetID, name string) (RecodeTable, Result, error) {
	done := s.observe(ctx, "generate_recode_proforma")
	var created RecodeTable
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		ds, ok := tx.FindDataset(datasetID)
		if !ok {
			return ErrNotFound{Entity: EntityDataset, ID: datasetID}
		}
		if name == "" {
			name = ds.Name + "-recode"
		}
		table := RecodeTable{Name: name, DatasetID: datasetID}
		for _, pop := range populations(ds) {
			table.Entries = append(table.Entries, RecodeEntry{Old: pop, New: pop})
		}
		var err error
		created, err = tx.CreateRecodeTable(table)
		return err
	})
	done(err)
	return created, res, err
}

// UpdateRecodeTable replaces the entries of an existing recode table, as
// after a round-trip through an edited proforma CSV.
func (s *Service) UpdateRecodeTable(ctx context.Context, tableID string, entries []RecodeEntry) (RecodeTable, Result, error) {
	done := s.observe(ctx, "update_recode_table")
	var updated RecodeTable
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateRecodeTable(tableID, func(rt *RecodeTable) error {
			rt.Entries = append([]RecodeEntry(nil), entries...)
			return nil
		})
		return err
	})
	done(err)
	return updated, res, err
}

// ApplyRecode relabels the dataset's populations per the recode table.
// Populations mapped to RecodeDelete have their individuals removed, with
// the same metric recompute as individual filtering.
func (s *Service) ApplyRecode(ctx context.Context, datasetID, tableID string) (Dataset, Result, error) {
	done := s.observe(ctx, "apply_recode")
	var updated Dataset
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		table, ok := tx.FindRecodeTable(tableID)
		if !ok {
			return ErrNotFound{Entity: EntityRecodeTable, ID: tableID}
		}
		if table.DatasetID != datasetID {
			return fmt.Errorf("recode table %s targets dataset %s, not %s", tableID, table.DatasetID, datasetID)
		}
		mapping := make(map[string]string, len(table.Entries))
		for _, e := range table.Entries {
			mapping[e.Old] = e.New
		}
		var err error
		updated, err = tx.UpdateDataset(datasetID, func(ds *Dataset) error {
			for i := range ds.Individuals {
				if to, ok := mapping[ds.Individuals[i].Population]; ok {
					ds.Individuals[i].Population = to
				}
			}
			dropIndividuals(ds, func(i int) bool { return ds.Individuals[i].Population == RecodeDelete })
			ds.RecalcMetrics()
			return nil
		})
		return err
	})
	done(err)
	return updated, res, err
}

// updateDataset runs a dataset mutator in a transaction and recomputes the
// per-locus metrics afterwards.
func (s *Service) updateDataset(ctx context.Context, id string, mutate func(*Dataset) error) (Dataset, Result, error) {
	var updated Dataset
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateDataset(id, func(ds *Dataset) error {
			if err := mutate(ds); err != nil {
				return err
			}
			ds.RecalcMetrics()
			return nil
		})
		return err
	})
	return updated, res, err
}

// dropLoci removes the matrix columns and locus rows selected by drop. The
// predicate is evaluated against the pre-removal dataset.
func dropLoci(ds *Dataset, drop func(j int) bool) {
	keep := make([]bool, ds.NumLoci())
	kept := 0
	for j := range keep {
		if !drop(j) {
			keep[j] = true
			kept++
		}
	}
	if kept == len(keep) {
		return
	}
	loci := make([]LocusMetadata, 0, kept)
	for j, k := range keep {
		if k {
			loci = append(loci, ds.Loci[j])
		}
	}
	for i, row := range ds.Calls {
		next := make([]Call, 0, kept)
		for j, k := range keep {
			if k {
				next = append(next, row[j])
			}
		}
		ds.Calls[i] = next
	}
	ds.Loci = loci
}

// dropIndividuals removes the matrix rows and individual records selected by
// drop, evaluated against the pre-removal dataset.
func dropIndividuals(ds *Dataset, drop func(i int) bool) {
	keepRows := make([][]Call, 0, len(ds.Calls))
	keepInds := make([]IndividualRecord, 0, len(ds.Individuals))
	for i := range ds.Calls {
		if drop(i) {
			continue
		}
		keepRows = append(keepRows, ds.Calls[i])
		keepInds = append(keepInds, ds.Individuals[i])
	}
	ds.Calls = keepRows
	ds.Individuals = keepInds
}

// populations returns the unique population labels of a dataset in sorted
// order, skipping empty labels.
func populations(ds Dataset) []string {
	seen := map[string]bool{}
	var out []string
	for _, ind := range ds.Individuals {
		if ind.Population == "" || seen[ind.Population] {
			continue
		}
		seen[ind.Population] = true
		out = append(out, ind.Population)
	}
	sort.Strings(out)
	return out
}
