package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"dartcore/pkg/domain"
)

func testDataset() domain.Dataset {
	return domain.Dataset{
		Name:        "persisted",
		Type:        domain.DatasetSNP,
		Calls:       [][]domain.Call{{0, 2}, {1, domain.CallMissing}},
		Loci:        []domain.LocusMetadata{{AlleleID: "a1"}, {AlleleID: "a2"}},
		Individuals: []domain.IndividualRecord{{SampleID: "s1", Population: "p1"}, {SampleID: "s2", Population: "p2"}},
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dart.db")

	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	var created domain.Dataset
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateDataset(testDataset())
		if err != nil {
			return err
		}
		_, err = tx.CreateRecodeTable(domain.RecodeTable{Name: "proforma", DatasetID: created.ID})
		return err
	}); err != nil {
		t.Fatalf("transaction: %v", err)
	}

	reopened, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok := reopened.GetDataset(created.ID)
	if !ok {
		t.Fatalf("dataset lost across reopen")
	}
	if got.NumIndividuals() != 2 || got.NumLoci() != 2 {
		t.Fatalf("unexpected shape %dx%d", got.NumIndividuals(), got.NumLoci())
	}
	if got.Calls[1][1] != domain.CallMissing {
		t.Fatalf("missing call corrupted: %v", got.Calls[1][1])
	}
	if len(reopened.ListRecodeTables()) != 1 {
		t.Fatalf("recode table lost across reopen")
	}
}

func TestNestedPathCreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "dart.db")
	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("NewStore nested: %v", err)
	}
	if store.Path() != path {
		t.Fatalf("path = %q, want %q", store.Path(), path)
	}
}

func TestFailedTransactionNotPersisted(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dart.db")
	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	sentinel := errors.New("abort")
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateDataset(testDataset()); err != nil {
			return err
		}
		return sentinel
	}); !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}

	reopened, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if n := len(reopened.ListDatasets()); n != 0 {
		t.Fatalf("aborted transaction persisted %d datasets", n)
	}
}
