package dart

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"dartcore/pkg/domain"
)

// IndividualMetadata is one row of the external metadata CSV before it is
// matched against the dataset's sample order.
type IndividualMetadata struct {
	SampleID   string
	Population string
	Latitude   *float64
	Longitude  *float64
	Covariates map[string]string
}

// MergeSummary reports how an individual-metadata merge matched up.
type MergeSummary struct {
	Matched          int
	UnmatchedSamples []string // dataset samples with no metadata row
	UnmatchedRows    []string // metadata rows with no dataset sample
}

// ParseIndividualMetadata reads the external per-individual metadata CSV.
// Required columns: id (sample identifier) and pop (population label).
// Optional lat/lon columns become coordinates; any other column is kept as a
// free covariate.
func ParseIndividualMetadata(r io.Reader) ([]IndividualMetadata, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("dart: read individual metadata: %w", err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("dart: individual metadata file is empty")
	}
	header := records[0]
	idCol, popCol := -1, -1
	latCol, lonCol := -1, -1
	covariates := map[int]string{}
	for i, name := range header {
		switch normalizeColumn(name) {
		case "id", "sampleid", "ind", "genotype":
			if idCol < 0 {
				idCol = i
			}
		case "pop", "population":
			if popCol < 0 {
				popCol = i
			}
		case "lat", "latitude":
			latCol = i
		case "lon", "long", "longitude":
			lonCol = i
		default:
			if n := strings.TrimSpace(name); n != "" {
				covariates[i] = n
			}
		}
	}
	if idCol < 0 || popCol < 0 {
		return nil, fmt.Errorf("dart: individual metadata needs id and pop columns, got %v", header)
	}

	rows := make([]IndividualMetadata, 0, len(records)-1)
	for n, rec := range records[1:] {
		if len(rec) != len(header) {
			return nil, fmt.Errorf("dart: metadata row %d has %d fields, want %d", n+2, len(rec), len(header))
		}
		row := IndividualMetadata{
			SampleID:   strings.TrimSpace(rec[idCol]),
			Population: strings.TrimSpace(rec[popCol]),
		}
		if row.SampleID == "" {
			return nil, fmt.Errorf("dart: metadata row %d has empty sample id", n+2)
		}
		if latCol >= 0 {
			row.Latitude = parseCoord(rec[latCol])
		}
		if lonCol >= 0 {
			row.Longitude = parseCoord(rec[lonCol])
		}
		for i, name := range covariates {
			if v := strings.TrimSpace(rec[i]); v != "" {
				if row.Covariates == nil {
					row.Covariates = map[string]string{}
				}
				row.Covariates[name] = v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// MergeIndividualMetadata applies metadata rows to ds in matrix order,
// matching on sample ID. Unmatched entries on either side are reported, not
// fatal; callers decide how strict to be.
func MergeIndividualMetadata(ds *domain.Dataset, rows []IndividualMetadata) (MergeSummary, error) {
	byID := make(map[string]IndividualMetadata, len(rows))
	for _, row := range rows {
		if _, dup := byID[row.SampleID]; dup {
			return MergeSummary{}, fmt.Errorf("dart: duplicate metadata for sample %q", row.SampleID)
		}
		byID[row.SampleID] = row
	}

	var summary MergeSummary
	used := make(map[string]bool, len(rows))
	for i := range ds.Individuals {
		id := ds.Individuals[i].SampleID
		row, ok := byID[id]
		if !ok {
			summary.UnmatchedSamples = append(summary.UnmatchedSamples, id)
			continue
		}
		used[id] = true
		summary.Matched++
		ds.Individuals[i].Population = row.Population
		ds.Individuals[i].Latitude = row.Latitude
		ds.Individuals[i].Longitude = row.Longitude
		if len(row.Covariates) > 0 {
			cov := make(map[string]string, len(row.Covariates))
			for k, v := range row.Covariates {
				cov[k] = v
			}
			ds.Individuals[i].Covariates = cov
		}
	}
	for _, row := range rows {
		if !used[row.SampleID] {
			summary.UnmatchedRows = append(summary.UnmatchedRows, row.SampleID)
		}
	}
	return summary, nil
}

func parseCoord(raw string) *float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil
	}
	return &v
}
