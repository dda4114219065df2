package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"dartcore/internal/blob"
	"dartcore/internal/dart"
	"dartcore/pkg/domain"
)

const snpReport = `*,*,*,*,*,,,,
*,*,*,*,*,plate1,plate1,plate2,plate2
AlleleID,CloneID,SNP,CallRate,RepAvg,ind1,ind2,ind3,ind4
100001|F|0-5:A>G,100001,5:A>G,0.95,0.99,0,1,2,1
100002|F|0-9:C>T,100002,9:C>T,0.90,0.95,-,1,2,-
100003|F|0-12:G>A,100003,12:G>A,1.0,1.0,2,2,2,2
100004|F|0-33:T>C,100004,33:T>C,0.85,0.92,-,-,-,0
`

const sampleMetadata = `id,pop,lat,lon
ind1,BrisWive,-27.47,153.03
ind2,BrisWive,-27.50,153.01
ind3,RussWarr,-28.21,152.10
ind4,RussWarr,-28.24,152.12
`

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewInMemoryService(WithBlobStore(blob.NewMemory()))
}

func importFixture(t *testing.T, svc *Service, withMetadata bool) ImportResult {
	t.Helper()
	req := ImportRequest{
		DatasetName: "emmac",
		FileName:    "emmac_report.csv",
		Report:      strings.NewReader(snpReport),
		Options:     dart.ReportOptions{Format: FormatSNPOneRow},
	}
	if withMetadata {
		req.IndividualMetadata = strings.NewReader(sampleMetadata)
	}
	out, _, err := svc.ImportReport(context.Background(), req)
	if err != nil {
		t.Fatalf("ImportReport: %v", err)
	}
	return out
}

func TestImportReportRoundTrip(t *testing.T) {
	svc := newTestService(t)
	out := importFixture(t, svc, true)

	ds := out.Dataset
	if ds.NumIndividuals() != 4 || ds.NumLoci() != 4 {
		t.Fatalf("shape %dx%d, want 4x4", ds.NumIndividuals(), ds.NumLoci())
	}
	if len(ds.Individuals) != ds.NumIndividuals() || len(ds.Loci) != ds.NumLoci() {
		t.Fatalf("metadata rows do not match matrix: %d/%d loci %d/%d",
			len(ds.Individuals), ds.NumIndividuals(), len(ds.Loci), ds.NumLoci())
	}
	if out.Merge.Matched != 4 || len(out.Merge.UnmatchedSamples) != 0 {
		t.Fatalf("merge summary: %+v", out.Merge)
	}
	if ds.Individuals[0].Population != "BrisWive" || ds.Individuals[3].Population != "RussWarr" {
		t.Fatalf("populations not merged: %+v", ds.Individuals)
	}

	// Provenance record points at the archived raw report.
	if ds.ReportID == nil {
		t.Fatalf("dataset missing report reference")
	}
	report, err := svc.GetReportFile(*ds.ReportID)
	if err != nil {
		t.Fatalf("GetReportFile: %v", err)
	}
	if report.NumLoci != 4 || report.NumIndividuals != 4 || report.SizeBytes != int64(len(snpReport)) {
		t.Fatalf("report record: %+v", report)
	}
	info, rc, err := svc.Blobs().Get(context.Background(), report.BlobKey)
	if err != nil {
		t.Fatalf("raw report not archived: %v", err)
	}
	_ = rc.Close()
	if info.Size != int64(len(snpReport)) {
		t.Fatalf("archived size = %d, want %d", info.Size, len(snpReport))
	}
}

func TestImportWithoutMetadataWarnsOnPopulations(t *testing.T) {
	svc := newTestService(t)
	req := ImportRequest{
		DatasetName: "nolabels",
		Report:      strings.NewReader(snpReport),
		Options:     dart.ReportOptions{Format: FormatSNPOneRow},
	}
	_, res, err := svc.ImportReport(context.Background(), req)
	if err != nil {
		t.Fatalf("ImportReport: %v", err)
	}
	found := false
	for _, v := range res.Violations {
		if v.Rule == "population_labels" && v.Severity == SeverityWarn {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected population_labels warning, got %+v", res.Violations)
	}
}

func TestFilterLociByCallRate(t *testing.T) {
	svc := newTestService(t)
	out := importFixture(t, svc, true)
	ctx := context.Background()

	// Loci call rates over 4 individuals: 1.0, 0.5, 1.0, 0.25.
	ds, _, err := svc.FilterLociByCallRate(ctx, out.Dataset.ID, 0.5)
	if err != nil {
		t.Fatalf("FilterLociByCallRate: %v", err)
	}
	if ds.NumLoci() != 3 {
		t.Fatalf("loci after 0.5 filter = %d, want 3", ds.NumLoci())
	}
	if err := ds.ValidateAlignment(); err != nil {
		t.Fatalf("alignment after filter: %v", err)
	}
	for _, l := range ds.Loci {
		if l.AlleleID == "100004|F|0-33:T>C" {
			t.Fatalf("low call-rate locus survived")
		}
	}

	// Filtering again at the same threshold is a no-op.
	again, _, err := svc.FilterLociByCallRate(ctx, ds.ID, 0.5)
	if err != nil {
		t.Fatalf("second filter: %v", err)
	}
	if again.NumLoci() != 3 {
		t.Fatalf("filter not idempotent: %d loci", again.NumLoci())
	}
}

func TestFilterThresholdBoundaries(t *testing.T) {
	svc := newTestService(t)
	out := importFixture(t, svc, true)
	ctx := context.Background()

	ds, _, err := svc.FilterLociByCallRate(ctx, out.Dataset.ID, 0.0)
	if err != nil {
		t.Fatalf("0.0 filter: %v", err)
	}
	if ds.NumLoci() != 4 {
		t.Fatalf("0.0 threshold removed loci: %d", ds.NumLoci())
	}

	ds, _, err = svc.FilterLociByCallRate(ctx, out.Dataset.ID, 1.0)
	if err != nil {
		t.Fatalf("1.0 filter: %v", err)
	}
	// Only loci with no missing calls survive.
	if ds.NumLoci() != 2 {
		t.Fatalf("1.0 threshold kept %d loci, want 2", ds.NumLoci())
	}

	if _, _, err := svc.FilterLociByCallRate(ctx, out.Dataset.ID, 1.5); err == nil {
		t.Fatalf("threshold above 1 accepted")
	}
	if _, _, err := svc.FilterIndividualsByCallRate(ctx, out.Dataset.ID, -0.1, false); err == nil {
		t.Fatalf("negative threshold accepted")
	}
}

func TestFilterIndividualsByCallRate(t *testing.T) {
	svc := newTestService(t)
	out := importFixture(t, svc, true)
	ctx := context.Background()

	// Individual call rates over 4 loci: ind1 0.5, ind2 0.75, ind3 0.75, ind4 0.75.
	ds, _, err := svc.FilterIndividualsByCallRate(ctx, out.Dataset.ID, 0.75, false)
	if err != nil {
		t.Fatalf("FilterIndividualsByCallRate: %v", err)
	}
	if ds.NumIndividuals() != 3 {
		t.Fatalf("individuals = %d, want 3", ds.NumIndividuals())
	}
	if err := ds.ValidateAlignment(); err != nil {
		t.Fatalf("alignment after filter: %v", err)
	}
	for _, ind := range ds.Individuals {
		if ind.SampleID == "ind1" {
			t.Fatalf("low call-rate individual survived")
		}
	}
	// Locus call rates recomputed against survivors.
	if got := ds.Loci[0].CallRate; got != 1.0 {
		t.Fatalf("locus call rate not recomputed: %v", got)
	}
}

func TestFilterIndividualsCascadesIntoMonomorphRemoval(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	// Locus 2 becomes monomorphic once ind3 is gone; locus 3 already is.
	ds := Dataset{
		Name: "cascade",
		Type: DatasetSNP,
		Calls: [][]Call{
			{0, 1, 2},
			{2, 1, 2},
			{domain.CallMissing, 0, domain.CallMissing},
		},
		Loci:        []LocusMetadata{{AlleleID: "l1"}, {AlleleID: "l2"}, {AlleleID: "l3"}},
		Individuals: []IndividualRecord{{SampleID: "a", Population: "p"}, {SampleID: "b", Population: "p"}, {SampleID: "c", Population: "p"}},
	}
	created, _, err := svc.CreateDataset(ctx, ds)
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	filtered, _, err := svc.FilterIndividualsByCallRate(ctx, created.ID, 0.5, true)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if filtered.NumIndividuals() != 2 {
		t.Fatalf("individuals = %d, want 2", filtered.NumIndividuals())
	}
	if filtered.NumLoci() != 1 || filtered.Loci[0].AlleleID != "l1" {
		t.Fatalf("cascade kept wrong loci: %+v", filtered.Loci)
	}
}

func TestRemoveMonomorphicLoci(t *testing.T) {
	svc := newTestService(t)
	out := importFixture(t, svc, true)

	// Locus 3 is all 2s, locus 4 has a single non-missing call.
	ds, _, err := svc.RemoveMonomorphicLoci(context.Background(), out.Dataset.ID)
	if err != nil {
		t.Fatalf("RemoveMonomorphicLoci: %v", err)
	}
	if ds.NumLoci() != 2 {
		t.Fatalf("loci = %d, want 2", ds.NumLoci())
	}
	if err := ds.ValidateAlignment(); err != nil {
		t.Fatalf("alignment: %v", err)
	}
}

func TestRecodeProformaAndApply(t *testing.T) {
	svc := newTestService(t)
	out := importFixture(t, svc, true)
	ctx := context.Background()

	table, _, err := svc.GenerateRecodeProforma(ctx, out.Dataset.ID, "")
	if err != nil {
		t.Fatalf("GenerateRecodeProforma: %v", err)
	}
	if len(table.Entries) != 2 {
		t.Fatalf("entries = %+v, want 2 populations", table.Entries)
	}
	if table.Entries[0].Old != table.Entries[0].New {
		t.Fatalf("proforma should map populations to themselves: %+v", table.Entries[0])
	}

	// Relabel one population and delete the other.
	edited := []RecodeEntry{
		{Old: "BrisWive", New: "Brisbane"},
		{Old: "RussWarr", New: RecodeDelete},
	}
	if _, _, err := svc.UpdateRecodeTable(ctx, table.ID, edited); err != nil {
		t.Fatalf("UpdateRecodeTable: %v", err)
	}
	ds, _, err := svc.ApplyRecode(ctx, out.Dataset.ID, table.ID)
	if err != nil {
		t.Fatalf("ApplyRecode: %v", err)
	}
	if ds.NumIndividuals() != 2 {
		t.Fatalf("individuals after delete = %d, want 2", ds.NumIndividuals())
	}
	for _, ind := range ds.Individuals {
		if ind.Population != "Brisbane" {
			t.Fatalf("unexpected population %q", ind.Population)
		}
	}
	if err := ds.ValidateAlignment(); err != nil {
		t.Fatalf("alignment after recode: %v", err)
	}
}

func TestApplyRecodeWrongDataset(t *testing.T) {
	svc := newTestService(t)
	out := importFixture(t, svc, true)
	ctx := context.Background()

	table, _, err := svc.GenerateRecodeProforma(ctx, out.Dataset.ID, "t")
	if err != nil {
		t.Fatalf("proforma: %v", err)
	}
	other, _, err := svc.CreateDataset(ctx, Dataset{
		Name:        "other",
		Type:        DatasetSilico,
		Calls:       [][]Call{{1}},
		Loci:        []LocusMetadata{{CloneID: "c"}},
		Individuals: []IndividualRecord{{SampleID: "x", Population: "p"}},
	})
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	if _, _, err := svc.ApplyRecode(ctx, other.ID, table.ID); err == nil {
		t.Fatalf("cross-dataset recode accepted")
	}
}

func TestNotFoundErrors(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, err := svc.GetDataset("nope"); !errors.As(err, &ErrNotFound{}) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := svc.GenerateRecodeProforma(ctx, "nope", "t"); !errors.As(err, &ErrNotFound{}) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := svc.ApplyRecode(ctx, "d", "nope"); !errors.As(err, &ErrNotFound{}) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBlockingRuleAbortsBadDataset(t *testing.T) {
	svc := newTestService(t)
	misaligned := Dataset{
		Name:        "broken",
		Type:        DatasetSNP,
		Calls:       [][]Call{{0, 1}},
		Loci:        []LocusMetadata{{AlleleID: "only-one"}},
		Individuals: []IndividualRecord{{SampleID: "s", Population: "p"}},
	}
	_, _, err := svc.CreateDataset(context.Background(), misaligned)
	var rve RuleViolationError
	if !errors.As(err, &rve) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
	if len(svc.ListDatasets()) != 0 {
		t.Fatalf("misaligned dataset committed")
	}
}
