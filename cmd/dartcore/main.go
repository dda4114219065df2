// Command dartcore manages DArT genotype datasets: importing reports,
// call-rate filtering, monomorph removal, population recoding and artifact
// exports against the configured storage backends.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"dartcore/internal/blob"
	"dartcore/internal/core"
	"dartcore/internal/dart"
	"dartcore/internal/exports"
	"dartcore/pkg/domain"
)

var exitFunc = os.Exit

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "dartcore:", err)
		exitFunc(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage: dartcore <command> [flags]

commands:
  import              parse a DArT report into a new dataset
  filter-loci         drop loci below a call-rate threshold
  filter-individuals  drop individuals below a call-rate threshold
  monomorphs          drop monomorphic loci
  recode              generate, edit and apply population recode tables
  export              render dataset artifacts (matrix, proforma, summary)
  list                list datasets, recode tables or reports`)
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		usage(stdout)
		return fmt.Errorf("command required")
	}
	svc, err := openService()
	if err != nil {
		return err
	}
	ctx := context.Background()
	switch args[0] {
	case "import":
		return runImport(ctx, svc, args[1:], stdout)
	case "filter-loci":
		return runFilterLoci(ctx, svc, args[1:], stdout)
	case "filter-individuals":
		return runFilterIndividuals(ctx, svc, args[1:], stdout)
	case "monomorphs":
		return runMonomorphs(ctx, svc, args[1:], stdout)
	case "recode":
		return runRecode(ctx, svc, args[1:], stdout)
	case "export":
		return runExport(ctx, svc, args[1:], stdout)
	case "list":
		return runList(svc, args[1:], stdout)
	case "help", "-h", "--help":
		usage(stdout)
		return nil
	default:
		usage(stdout)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func openService() (*core.Service, error) {
	store, err := core.OpenPersistentStore(core.NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	blobs, err := blob.Open(context.Background())
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return core.NewService(store,
		core.WithBlobStore(blobs),
		core.WithLogger(logger),
		core.WithMetricsRecorder(core.NewExpvarMetricsRecorder("dartcore_cli")),
	), nil
}

func parseFormat(s string) (domain.ReportFormat, error) {
	switch s {
	case "snp1", "snp-one-row":
		return domain.FormatSNPOneRow, nil
	case "snp2", "snp-two-row":
		return domain.FormatSNPTwoRow, nil
	case "silico":
		return domain.FormatSilico, nil
	default:
		return "", fmt.Errorf("unknown format %q (snp1|snp2|silico)", s)
	}
}

func runImport(ctx context.Context, svc *core.Service, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	name := fs.String("name", "", "dataset name (required)")
	file := fs.String("file", "", "path to the DArT report CSV (required)")
	format := fs.String("format", "snp1", "report layout: snp1|snp2|silico")
	metaFile := fs.String("meta", "", "optional individual metadata CSV")
	headerRows := fs.Int("header-rows", 0, "explicit header row count (0 = detect by '*')")
	lastMetaCol := fs.String("last-meta-col", "", "name of the last metadata column")
	lastMetaIndex := fs.Int("last-meta-index", 0, "1-based index of the last metadata column")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *file == "" {
		return fmt.Errorf("import: -name and -file are required")
	}
	layout, err := parseFormat(*format)
	if err != nil {
		return err
	}
	report, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer func() { _ = report.Close() }()

	req := core.ImportRequest{
		DatasetName: *name,
		FileName:    *file,
		Report:      report,
		Options: dart.ReportOptions{
			Format:         layout,
			HeaderRows:     *headerRows,
			LastMetaColumn: *lastMetaCol,
			LastMetaIndex:  *lastMetaIndex,
		},
	}
	if *metaFile != "" {
		meta, err := os.Open(*metaFile)
		if err != nil {
			return err
		}
		defer func() { _ = meta.Close() }()
		req.IndividualMetadata = meta
	}
	out, res, err := svc.ImportReport(ctx, req)
	if err != nil {
		return err
	}
	printViolations(stdout, res)
	fmt.Fprintf(stdout, "imported dataset %s: %d individuals x %d loci (report %s)\n",
		out.Dataset.ID, out.Dataset.NumIndividuals(), out.Dataset.NumLoci(), out.Report.ID)
	for _, id := range out.Merge.UnmatchedSamples {
		fmt.Fprintf(stdout, "warning: no metadata for sample %s\n", id)
	}
	for _, id := range out.Merge.UnmatchedRows {
		fmt.Fprintf(stdout, "warning: metadata row %s matches no sample\n", id)
	}
	return nil
}

func runFilterLoci(ctx context.Context, svc *core.Service, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("filter-loci", flag.ContinueOnError)
	dataset := fs.String("dataset", "", "dataset ID (required)")
	threshold := fs.Float64("threshold", 0.95, "minimum locus call rate in [0,1]")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dataset == "" {
		return fmt.Errorf("filter-loci: -dataset is required")
	}
	before, err := svc.GetDataset(*dataset)
	if err != nil {
		return err
	}
	ds, res, err := svc.FilterLociByCallRate(ctx, *dataset, *threshold)
	if err != nil {
		return err
	}
	printViolations(stdout, res)
	fmt.Fprintf(stdout, "filtered loci: %d -> %d (threshold %g)\n", before.NumLoci(), ds.NumLoci(), *threshold)
	return nil
}

func runFilterIndividuals(ctx context.Context, svc *core.Service, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("filter-individuals", flag.ContinueOnError)
	dataset := fs.String("dataset", "", "dataset ID (required)")
	threshold := fs.Float64("threshold", 0.90, "minimum individual call rate in [0,1]")
	cascade := fs.Bool("remove-monomorphs", false, "also drop loci left monomorphic")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dataset == "" {
		return fmt.Errorf("filter-individuals: -dataset is required")
	}
	before, err := svc.GetDataset(*dataset)
	if err != nil {
		return err
	}
	ds, res, err := svc.FilterIndividualsByCallRate(ctx, *dataset, *threshold, *cascade)
	if err != nil {
		return err
	}
	printViolations(stdout, res)
	fmt.Fprintf(stdout, "filtered individuals: %d -> %d (threshold %g)\n",
		before.NumIndividuals(), ds.NumIndividuals(), *threshold)
	if *cascade {
		fmt.Fprintf(stdout, "loci: %d -> %d after monomorph removal\n", before.NumLoci(), ds.NumLoci())
	}
	return nil
}

func runMonomorphs(ctx context.Context, svc *core.Service, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("monomorphs", flag.ContinueOnError)
	dataset := fs.String("dataset", "", "dataset ID (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dataset == "" {
		return fmt.Errorf("monomorphs: -dataset is required")
	}
	before, err := svc.GetDataset(*dataset)
	if err != nil {
		return err
	}
	ds, res, err := svc.RemoveMonomorphicLoci(ctx, *dataset)
	if err != nil {
		return err
	}
	printViolations(stdout, res)
	fmt.Fprintf(stdout, "monomorphic loci removed: %d -> %d\n", before.NumLoci(), ds.NumLoci())
	return nil
}

func runRecode(ctx context.Context, svc *core.Service, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("recode", flag.ContinueOnError)
	dataset := fs.String("dataset", "", "dataset ID")
	table := fs.String("table", "", "recode table ID")
	name := fs.String("name", "", "proforma name when generating")
	load := fs.String("load", "", "CSV file of old,new entries replacing the table")
	apply := fs.Bool("apply", false, "apply the table to the dataset")
	if err := fs.Parse(args); err != nil {
		return err
	}
	switch {
	case *load != "":
		if *table == "" {
			return fmt.Errorf("recode: -load requires -table")
		}
		entries, err := readRecodeEntries(*load)
		if err != nil {
			return err
		}
		updated, res, err := svc.UpdateRecodeTable(ctx, *table, entries)
		if err != nil {
			return err
		}
		printViolations(stdout, res)
		fmt.Fprintf(stdout, "recode table %s updated: %d entries\n", updated.ID, len(updated.Entries))
		return nil
	case *apply:
		if *dataset == "" || *table == "" {
			return fmt.Errorf("recode: -apply requires -dataset and -table")
		}
		ds, res, err := svc.ApplyRecode(ctx, *dataset, *table)
		if err != nil {
			return err
		}
		printViolations(stdout, res)
		fmt.Fprintf(stdout, "recode applied: %d individuals remain\n", ds.NumIndividuals())
		return nil
	default:
		if *dataset == "" {
			return fmt.Errorf("recode: -dataset is required to generate a proforma")
		}
		created, res, err := svc.GenerateRecodeProforma(ctx, *dataset, *name)
		if err != nil {
			return err
		}
		printViolations(stdout, res)
		fmt.Fprintf(stdout, "recode proforma %s:\n", created.ID)
		cw := csv.NewWriter(stdout)
		_ = cw.Write([]string{"old", "new"})
		for _, e := range created.Entries {
			_ = cw.Write([]string{e.Old, e.New})
		}
		cw.Flush()
		return cw.Error()
	}
}

func readRecodeEntries(path string) ([]domain.RecodeEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	var entries []domain.RecodeEntry
	for i, rec := range records {
		if len(rec) < 2 {
			return nil, fmt.Errorf("%s row %d: want old,new columns", path, i+1)
		}
		old, next := strings.TrimSpace(rec[0]), strings.TrimSpace(rec[1])
		if i == 0 && strings.EqualFold(old, "old") {
			continue
		}
		entries = append(entries, domain.RecodeEntry{Old: old, New: next})
	}
	return entries, nil
}

func runExport(ctx context.Context, svc *core.Service, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	dataset := fs.String("dataset", "", "dataset ID (required)")
	kinds := fs.String("kinds", "genotype_matrix,summary", "comma-separated artifact kinds")
	wait := fs.Duration("wait", 30*time.Second, "how long to wait for completion")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dataset == "" {
		return fmt.Errorf("export: -dataset is required")
	}
	var kindList []exports.Kind
	for _, k := range strings.Split(*kinds, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kindList = append(kindList, exports.Kind(k))
		}
	}
	worker := exports.NewWorker(svc, svc.Blobs(), &exports.MemoryAuditLog{})
	worker.Start()
	defer func() { _ = worker.Stop(ctx) }()

	record, err := worker.Enqueue(ctx, exports.Input{DatasetID: *dataset, Kinds: kindList})
	if err != nil {
		return err
	}
	deadline := time.Now().Add(*wait)
	for time.Now().Before(deadline) {
		current, ok := worker.Get(record.ID)
		if ok && (current.Status == exports.StatusSucceeded || current.Status == exports.StatusFailed) {
			if current.Status == exports.StatusFailed {
				return fmt.Errorf("export failed: %s", current.Error)
			}
			for _, a := range current.Artifacts {
				fmt.Fprintf(stdout, "artifact %s (%s, %d bytes)\n", a.Key, a.ContentType, a.SizeBytes)
			}
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("export %s did not finish within %s", record.ID, *wait)
}

func runList(svc *core.Service, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	kind := fs.String("kind", "datasets", "datasets|tables|reports")
	asJSON := fs.Bool("json", false, "emit JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	switch *kind {
	case "datasets":
		if *asJSON {
			return encodeJSON(stdout, svc.ListDatasets())
		}
		for _, ds := range svc.ListDatasets() {
			fmt.Fprintf(stdout, "%s\t%s\t%s\t%dx%d\n", ds.ID, ds.Name, ds.Type, ds.NumIndividuals(), ds.NumLoci())
		}
	case "tables":
		if *asJSON {
			return encodeJSON(stdout, svc.ListRecodeTables())
		}
		for _, rt := range svc.ListRecodeTables() {
			fmt.Fprintf(stdout, "%s\t%s\tdataset=%s\tentries=%d\n", rt.ID, rt.Name, rt.DatasetID, len(rt.Entries))
		}
	case "reports":
		if *asJSON {
			return encodeJSON(stdout, svc.ListReportFiles())
		}
		for _, rf := range svc.ListReportFiles() {
			fmt.Fprintf(stdout, "%s\t%s\t%s\t%d bytes\n", rf.ID, rf.Name, rf.Format, rf.SizeBytes)
		}
	default:
		return fmt.Errorf("list: unknown kind %q", *kind)
	}
	return nil
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printViolations(w io.Writer, res domain.Result) {
	for _, v := range res.Violations {
		fmt.Fprintf(w, "%s: %s (%s)\n", v.Severity, v.Message, v.Rule)
	}
}
