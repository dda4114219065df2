// Package dart parses DArT genotyping report CSVs and external individual
// metadata files into the dataset shapes used by the rest of the system.
//
// A DArT report starts with a block of header rows whose first cell is "*";
// in those rows every metadata column is also marked "*", so the last marked
// column gives the boundary between locus metadata and per-sample genotype
// columns. The row after the block names the columns; subsequent rows are
// locus-major (one locus per row, one sample per genotype column).
package dart

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"dartcore/pkg/domain"
)

const headerMarker = "*"

// ReportOptions tunes report parsing. The zero value auto-detects the header
// block and the metadata boundary from the "*" markers.
type ReportOptions struct {
	Format domain.ReportFormat
	// HeaderRows overrides marker detection with an explicit count of rows
	// to skip before the column-name row.
	HeaderRows int
	// LastMetaColumn names the final locus-metadata column, overriding the
	// marker-derived boundary.
	LastMetaColumn string
	// LastMetaIndex is a 1-based column index alternative to LastMetaColumn.
	LastMetaIndex int
}

// Report is the parsed content of a DArT CSV, already transposed to the
// individual-major orientation of domain.Dataset.
type Report struct {
	Format    domain.ReportFormat
	Loci      []domain.LocusMetadata
	SampleIDs []string
	Calls     [][]domain.Call
}

// ParseReport reads a DArT report from r according to opts.
func ParseReport(r io.Reader, opts ReportOptions) (*Report, error) {
	switch opts.Format {
	case domain.FormatSNPOneRow, domain.FormatSNPTwoRow, domain.FormatSilico:
	default:
		return nil, fmt.Errorf("dart: unknown report format %q", opts.Format)
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("dart: read report: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("dart: empty report")
	}

	markerRows := opts.HeaderRows
	if markerRows == 0 {
		for markerRows < len(records) && firstCell(records[markerRows]) == headerMarker {
			markerRows++
		}
	}
	if markerRows >= len(records) {
		return nil, fmt.Errorf("dart: report has no column-name row after %d header rows", markerRows)
	}
	header := records[markerRows]
	data := records[markerRows+1:]

	boundary, err := metaBoundary(records[:markerRows], header, opts)
	if err != nil {
		return nil, err
	}
	if boundary >= len(header)-1 {
		return nil, fmt.Errorf("dart: no genotype columns after metadata boundary %d", boundary+1)
	}
	sampleIDs := make([]string, 0, len(header)-boundary-1)
	for _, id := range header[boundary+1:] {
		sampleIDs = append(sampleIDs, strings.TrimSpace(id))
	}

	cols := newColumnMap(header[:boundary+1])
	for i, row := range data {
		if len(row) != len(header) {
			return nil, fmt.Errorf("dart: row %d has %d fields, want %d", markerRows+i+2, len(row), len(header))
		}
	}

	rep := &Report{Format: opts.Format, SampleIDs: sampleIDs}
	switch opts.Format {
	case domain.FormatSNPTwoRow:
		err = rep.readTwoRow(data, cols, boundary)
	default:
		err = rep.readOneRow(data, cols, boundary)
	}
	if err != nil {
		return nil, err
	}
	return rep, nil
}

// Dataset assembles a domain.Dataset from the parsed report. Per-locus
// metrics are recomputed against the imported individuals.
func (rep *Report) Dataset(name string) domain.Dataset {
	dsType := domain.DatasetSNP
	if rep.Format == domain.FormatSilico {
		dsType = domain.DatasetSilico
	}
	individuals := make([]domain.IndividualRecord, len(rep.SampleIDs))
	for i, id := range rep.SampleIDs {
		individuals[i] = domain.IndividualRecord{SampleID: id}
	}
	ds := domain.Dataset{
		Name:        name,
		Type:        dsType,
		Calls:       rep.Calls,
		Loci:        append([]domain.LocusMetadata(nil), rep.Loci...),
		Individuals: individuals,
	}
	ds.RecalcMetrics()
	return ds
}

// readOneRow handles the single-row SNP and SilicoDArT layouts: one locus
// per data row, one call code per sample column.
func (rep *Report) readOneRow(data [][]string, cols columnMap, boundary int) error {
	silico := rep.Format == domain.FormatSilico
	rep.Calls = make([][]domain.Call, len(rep.SampleIDs))
	for i := range rep.Calls {
		rep.Calls[i] = make([]domain.Call, 0, len(data))
	}
	for _, row := range data {
		rep.Loci = append(rep.Loci, cols.locus(row))
		for s, raw := range row[boundary+1:] {
			call, err := parseCall(raw, silico)
			if err != nil {
				return fmt.Errorf("dart: locus %q sample %q: %w", firstCell(row), rep.SampleIDs[s], err)
			}
			rep.Calls[s] = append(rep.Calls[s], call)
		}
	}
	return nil
}

// readTwoRow handles the two-row SNP layout: each locus occupies two
// consecutive rows carrying reference and alternate allele presence. The
// presence pair maps to dosage: (1,0) hom ref, (0,1) hom alt, (1,1) het,
// anything else missing. Locus metadata is taken from the second row, which
// carries the SNP annotation.
func (rep *Report) readTwoRow(data [][]string, cols columnMap, boundary int) error {
	if len(data)%2 != 0 {
		return fmt.Errorf("dart: two-row report has odd row count %d", len(data))
	}
	rep.Calls = make([][]domain.Call, len(rep.SampleIDs))
	for i := range rep.Calls {
		rep.Calls[i] = make([]domain.Call, 0, len(data)/2)
	}
	for l := 0; l < len(data); l += 2 {
		refRow, altRow := data[l], data[l+1]
		refMeta, altMeta := cols.locus(refRow), cols.locus(altRow)
		if refMeta.CloneID != "" && altMeta.CloneID != "" && refMeta.CloneID != altMeta.CloneID {
			return fmt.Errorf("dart: rows %d and %d pair clones %q and %q", l+1, l+2, refMeta.CloneID, altMeta.CloneID)
		}
		rep.Loci = append(rep.Loci, altMeta)
		for s := range rep.SampleIDs {
			ref, errRef := parseCall(refRow[boundary+1+s], true)
			alt, errAlt := parseCall(altRow[boundary+1+s], true)
			call := domain.CallMissing
			if errRef == nil && errAlt == nil {
				switch {
				case ref == domain.CallPresent && alt == domain.CallAbsent:
					call = domain.CallHomRef
				case ref == domain.CallAbsent && alt == domain.CallPresent:
					call = domain.CallHomAlt
				case ref == domain.CallPresent && alt == domain.CallPresent:
					call = domain.CallHet
				}
			}
			rep.Calls[s] = append(rep.Calls[s], call)
		}
	}
	return nil
}

// parseCall decodes one genotype cell. "-" and the empty cell are missing.
func parseCall(raw string, silico bool) (domain.Call, error) {
	switch strings.TrimSpace(raw) {
	case "-", "":
		return domain.CallMissing, nil
	case "0":
		return 0, nil
	case "1":
		return 1, nil
	case "2":
		if silico {
			return 0, fmt.Errorf("call %q outside presence/absence domain", raw)
		}
		return 2, nil
	default:
		return 0, fmt.Errorf("unparseable call %q", raw)
	}
}

// metaBoundary resolves the index of the last locus-metadata column.
func metaBoundary(markerRows [][]string, header []string, opts ReportOptions) (int, error) {
	if opts.LastMetaIndex > 0 {
		if opts.LastMetaIndex >= len(header) {
			return 0, fmt.Errorf("dart: metadata boundary index %d beyond %d columns", opts.LastMetaIndex, len(header))
		}
		return opts.LastMetaIndex - 1, nil
	}
	if opts.LastMetaColumn != "" {
		for i, name := range header {
			if strings.EqualFold(strings.TrimSpace(name), opts.LastMetaColumn) {
				return i, nil
			}
		}
		return 0, fmt.Errorf("dart: metadata boundary column %q not in header", opts.LastMetaColumn)
	}
	boundary := -1
	for _, row := range markerRows {
		for i, cell := range row {
			if strings.TrimSpace(cell) == headerMarker && i > boundary {
				boundary = i
			}
		}
	}
	if boundary < 0 {
		return 0, fmt.Errorf("dart: no %q markers found; specify the metadata boundary explicitly", headerMarker)
	}
	return boundary, nil
}

// columnMap locates the known locus-metadata columns by normalized name so
// reports with vendor naming variants still bind correctly.
type columnMap map[string]int

func newColumnMap(names []string) columnMap {
	m := make(columnMap, len(names))
	for i, name := range names {
		key := normalizeColumn(name)
		if _, taken := m[key]; key != "" && !taken {
			m[key] = i
		}
	}
	return m
}

func normalizeColumn(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (m columnMap) str(row []string, aliases ...string) string {
	for _, a := range aliases {
		if i, ok := m[a]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
	}
	return ""
}

func (m columnMap) float(row []string, aliases ...string) float64 {
	v, err := strconv.ParseFloat(m.str(row, aliases...), 64)
	if err != nil {
		return 0
	}
	return v
}

func (m columnMap) int(row []string, aliases ...string) int {
	v, err := strconv.Atoi(m.str(row, aliases...))
	if err != nil {
		return 0
	}
	return v
}

// locus extracts the metadata fields of one report row. Report metrics are
// kept verbatim; the recomputed metrics are filled in later.
func (m columnMap) locus(row []string) domain.LocusMetadata {
	return domain.LocusMetadata{
		AlleleID:       m.str(row, "alleleid", "allelename"),
		CloneID:        m.str(row, "cloneid", "clone"),
		Sequence:       m.str(row, "allelesequence", "trimmedsequence", "sequence"),
		Chromosome:     m.str(row, "chrom", "chromosome"),
		Position:       m.int(row, "chrompos", "snpposition", "position"),
		SNP:            m.str(row, "snp"),
		ReportCallRate: m.float(row, "callrate"),
		OneRatioRef:    m.float(row, "oneratioref"),
		OneRatioSNP:    m.float(row, "oneratiosnp"),
		RepAvg:         m.float(row, "repavg", "reproducibility"),
	}
}

func firstCell(row []string) string {
	if len(row) == 0 {
		return ""
	}
	return strings.TrimSpace(row[0])
}
