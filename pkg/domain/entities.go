// Package domain defines the genotype dataset entities, value types, and
// rule evaluation primitives used by dartcore.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityDataset identifies a genotype dataset record.
	EntityDataset EntityType = "dataset"
	// EntityRecodeTable identifies a population recode table record.
	EntityRecodeTable EntityType = "recode_table"
	// EntityReportFile identifies an imported raw report provenance record.
	EntityReportFile EntityType = "report_file"
)

// DatasetType distinguishes SNP dosage datasets from SilicoDArT
// presence/absence datasets. The two carry different call value domains.
type DatasetType string

const (
	// DatasetSNP holds alternate-allele dosage calls in {0,1,2,missing}.
	DatasetSNP DatasetType = "snp"
	// DatasetSilico holds presence/absence scores in {0,1,missing}.
	DatasetSilico DatasetType = "silico"
)

// ReportFormat enumerates the supported DArT report layouts.
type ReportFormat string

const (
	// FormatSNPOneRow is the single-row SNP report (one genotype code per clone).
	FormatSNPOneRow ReportFormat = "snp_one_row"
	// FormatSNPTwoRow is the two-row SNP report (allele presence pairs per clone).
	FormatSNPTwoRow ReportFormat = "snp_two_row"
	// FormatSilico is the SilicoDArT presence/absence report.
	FormatSilico ReportFormat = "silico"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// RecodeDelete is the sentinel new-population name marking individuals for
// removal when a recode table is applied.
const RecodeDelete = "Delete"

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LocusMetadata carries the per-locus annotation columns of a DArT report,
// row-aligned to the columns of the call matrix.
type LocusMetadata struct {
	AlleleID   string `json:"allele_id"`
	CloneID    string `json:"clone_id"`
	Sequence   string `json:"sequence,omitempty"`
	Chromosome string `json:"chromosome,omitempty"`
	Position   int    `json:"position,omitempty"`
	SNP        string `json:"snp,omitempty"`
	// Metrics as published in the report.
	ReportCallRate float64 `json:"report_call_rate"`
	OneRatioRef    float64 `json:"one_ratio_ref,omitempty"`
	OneRatioSNP    float64 `json:"one_ratio_snp,omitempty"`
	RepAvg         float64 `json:"rep_avg,omitempty"`
	// Metrics recomputed against the individuals currently in the dataset.
	CallRate   float64 `json:"call_rate"`
	AlleleFreq float64 `json:"allele_freq,omitempty"`
}

// IndividualRecord carries the per-individual metadata, row-aligned to the
// rows of the call matrix.
type IndividualRecord struct {
	SampleID   string            `json:"sample_id"`
	Population string            `json:"population"`
	Latitude   *float64          `json:"latitude,omitempty"`
	Longitude  *float64          `json:"longitude,omitempty"`
	Covariates map[string]string `json:"covariates,omitempty"`
}

// Dataset is the genotype container: an individual-major call matrix with
// locus metadata aligned to its columns and individual metadata aligned to
// its rows.
type Dataset struct {
	Base
	Name        string             `json:"name"`
	Type        DatasetType        `json:"type"`
	Calls       [][]Call           `json:"calls"`
	Loci        []LocusMetadata    `json:"loci"`
	Individuals []IndividualRecord `json:"individuals"`
	ReportID    *string            `json:"report_id,omitempty"`
}

// RecodeEntry maps one current population name to its replacement.
type RecodeEntry struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// RecodeTable is an editable population relabeling proforma. Entries whose
// New name equals RecodeDelete drop the matching individuals on application.
type RecodeTable struct {
	Base
	Name      string        `json:"name"`
	DatasetID string        `json:"dataset_id"`
	Entries   []RecodeEntry `json:"entries"`
}

// ReportFile records provenance for an imported raw DArT report.
type ReportFile struct {
	Base
	Name           string       `json:"name"`
	BlobKey        string       `json:"blob_key"`
	Format         ReportFormat `json:"format"`
	SizeBytes      int64        `json:"size_bytes"`
	NumLoci        int          `json:"num_loci"`
	NumIndividuals int          `json:"num_individuals"`
}

// Change captures an entity mutation for audit purposes.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}

// Clone returns a deep copy of the dataset, including the call matrix and
// both metadata tables.
func (d Dataset) Clone() Dataset {
	out := d
	if d.Calls != nil {
		out.Calls = make([][]Call, len(d.Calls))
		for i, row := range d.Calls {
			cp := make([]Call, len(row))
			copy(cp, row)
			out.Calls[i] = cp
		}
	}
	if d.Loci != nil {
		out.Loci = append([]LocusMetadata(nil), d.Loci...)
	}
	if d.Individuals != nil {
		out.Individuals = make([]IndividualRecord, len(d.Individuals))
		for i, ind := range d.Individuals {
			out.Individuals[i] = ind.Clone()
		}
	}
	if d.ReportID != nil {
		id := *d.ReportID
		out.ReportID = &id
	}
	return out
}

// Clone returns a deep copy of the individual record.
func (r IndividualRecord) Clone() IndividualRecord {
	out := r
	if r.Latitude != nil {
		v := *r.Latitude
		out.Latitude = &v
	}
	if r.Longitude != nil {
		v := *r.Longitude
		out.Longitude = &v
	}
	if r.Covariates != nil {
		out.Covariates = make(map[string]string, len(r.Covariates))
		for k, v := range r.Covariates {
			out.Covariates[k] = v
		}
	}
	return out
}

// Clone returns a deep copy of the recode table.
func (t RecodeTable) Clone() RecodeTable {
	out := t
	if t.Entries != nil {
		out.Entries = append([]RecodeEntry(nil), t.Entries...)
	}
	return out
}
