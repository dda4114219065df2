package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateDataset(Dataset) (Dataset, error)
	UpdateDataset(id string, mutator func(*Dataset) error) (Dataset, error)
	DeleteDataset(id string) error
	CreateRecodeTable(RecodeTable) (RecodeTable, error)
	UpdateRecodeTable(id string, mutator func(*RecodeTable) error) (RecodeTable, error)
	DeleteRecodeTable(id string) error
	CreateReportFile(ReportFile) (ReportFile, error)
	DeleteReportFile(id string) error
	FindDataset(id string) (Dataset, bool)
	FindRecodeTable(id string) (RecodeTable, bool)
}

// TransactionView provides read-only access to snapshot data. Its surface is
// identical to the rule evaluation view.
type TransactionView = RuleView

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetDataset(id string) (Dataset, bool)
	ListDatasets() []Dataset
	GetRecodeTable(id string) (RecodeTable, bool)
	ListRecodeTables() []RecodeTable
	GetReportFile(id string) (ReportFile, bool)
	ListReportFiles() []ReportFile
}
