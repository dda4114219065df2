package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"dartcore/pkg/domain"
)

func sampleDataset(name string) Dataset {
	return Dataset{
		Name: name,
		Type: domain.DatasetSNP,
		Calls: [][]Call{
			{0, 1},
			{2, domain.CallMissing},
		},
		Loci: []domain.LocusMetadata{
			{AlleleID: "a1"},
			{AlleleID: "a2"},
		},
		Individuals: []domain.IndividualRecord{
			{SampleID: "s1", Population: "p1"},
			{SampleID: "s2", Population: "p2"},
		},
	}
}

func TestDatasetCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)

	var created Dataset
	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		created, err = tx.CreateDataset(sampleDataset("crud"))
		return err
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.CreatedAt.IsZero() {
		t.Fatalf("created dataset missing identity: %+v", created.Base)
	}

	got, ok := store.GetDataset(created.ID)
	if !ok || got.Name != "crud" {
		t.Fatalf("get after create: %v %+v", ok, got.Base)
	}

	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.UpdateDataset(created.ID, func(ds *Dataset) error {
			ds.Name = "renamed"
			return nil
		})
		return err
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = store.GetDataset(created.ID)
	if got.Name != "renamed" {
		t.Fatalf("update not applied: %q", got.Name)
	}

	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		return tx.DeleteDataset(created.ID)
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := store.GetDataset(created.ID); ok {
		t.Fatalf("dataset survived delete")
	}
}

func TestTransactionRollbackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	sentinel := errors.New("boom")
	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		if _, err := tx.CreateDataset(sampleDataset("doomed")); err != nil {
			return err
		}
		return sentinel
	}); !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if n := len(store.ListDatasets()); n != 0 {
		t.Fatalf("failed transaction leaked %d datasets", n)
	}
}

type blockAllRule struct{}

func (blockAllRule) Name() string { return "block_all" }

func (blockAllRule) Evaluate(_ context.Context, _ domain.RuleView, changes []Change) (Result, error) {
	if len(changes) == 0 {
		return Result{}, nil
	}
	return Result{Violations: []domain.Violation{{Rule: "block_all", Severity: domain.SeverityBlock, Message: "no"}}}, nil
}

func TestBlockingRulePreventsCommit(t *testing.T) {
	ctx := context.Background()
	engine := domain.NewRulesEngine()
	engine.Register(blockAllRule{})
	store := NewStore(engine)

	res, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.CreateDataset(sampleDataset("blocked"))
		return err
	})
	var rve domain.RuleViolationError
	if !errors.As(err, &rve) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
	if !res.HasBlocking() {
		t.Fatalf("result should carry the blocking violation")
	}
	if n := len(store.ListDatasets()); n != 0 {
		t.Fatalf("blocked transaction committed %d datasets", n)
	}
}

func TestDeleteGuards(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)

	var ds Dataset
	var rt RecodeTable
	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		if ds, err = tx.CreateDataset(sampleDataset("guarded")); err != nil {
			return err
		}
		rt, err = tx.CreateRecodeTable(RecodeTable{Name: "proforma", DatasetID: ds.ID})
		return err
	}); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		return tx.DeleteDataset(ds.ID)
	}); err == nil {
		t.Fatalf("expected referenced-dataset delete to fail")
	}

	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		if err := tx.DeleteRecodeTable(rt.ID); err != nil {
			return err
		}
		return tx.DeleteDataset(ds.ID)
	}); err != nil {
		t.Fatalf("delete after unreference: %v", err)
	}
}

func TestReportFileReferenceGuard(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)

	var rf ReportFile
	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		if rf, err = tx.CreateReportFile(ReportFile{Name: "report.csv", BlobKey: "reports/report.csv"}); err != nil {
			return err
		}
		ds := sampleDataset("with-report")
		ds.ReportID = &rf.ID
		_, err = tx.CreateDataset(ds)
		return err
	}); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		return tx.DeleteReportFile(rf.ID)
	}); err == nil {
		t.Fatalf("expected referenced report delete to fail")
	}
}

func TestRecodeTableUnknownDataset(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.CreateRecodeTable(RecodeTable{Name: "orphan", DatasetID: "nope"})
		return err
	}); err == nil {
		t.Fatalf("expected unknown dataset reference to fail")
	}
}

func TestViewIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.CreateDataset(sampleDataset("iso"))
		return err
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.View(ctx, func(view TransactionView) error {
		datasets := view.ListDatasets()
		if len(datasets) != 1 {
			return fmt.Errorf("expected 1 dataset, got %d", len(datasets))
		}
		// mutating the returned clone must not affect committed state
		datasets[0].Calls[0][0] = 2
		datasets[0].Individuals[0].Population = "mutated"
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}

	committed := store.ListDatasets()[0]
	if committed.Calls[0][0] != 0 || committed.Individuals[0].Population != "p1" {
		t.Fatalf("view leaked mutations into committed state")
	}
}

func TestExportImportState(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		if _, err := tx.CreateDataset(sampleDataset("snapshot")); err != nil {
			return err
		}
		_, err := tx.CreateReportFile(ReportFile{Name: "r.csv", BlobKey: "reports/r.csv"})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	snap := store.ExportState()
	restored := NewStore(nil)
	restored.ImportState(snap)

	if len(restored.ListDatasets()) != 1 || len(restored.ListReportFiles()) != 1 {
		t.Fatalf("snapshot round trip lost records")
	}
	ds := restored.ListDatasets()[0]
	if err := ds.ValidateAlignment(); err != nil {
		t.Fatalf("restored dataset misaligned: %v", err)
	}
}

func TestCreateDuplicateID(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	ds := sampleDataset("dup")
	ds.ID = "fixed"
	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		if _, err := tx.CreateDataset(ds); err != nil {
			return err
		}
		_, err := tx.CreateDataset(ds)
		return err
	}); err == nil {
		t.Fatalf("expected duplicate ID error")
	}
}
