package exports

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"dartcore/pkg/domain"
)

type rendered struct {
	payload     []byte
	contentType string
	ext         string
}

func render(kind Kind, ds domain.Dataset) (rendered, error) {
	switch kind {
	case KindGenotypeMatrix:
		b, err := renderMatrixCSV(ds)
		return rendered{payload: b, contentType: "text/csv", ext: "csv"}, err
	case KindRecodeProforma:
		b, err := renderProformaCSV(ds)
		return rendered{payload: b, contentType: "text/csv", ext: "csv"}, err
	case KindSummary:
		b, err := renderSummaryJSON(ds)
		return rendered{payload: b, contentType: "application/json", ext: "json"}, err
	default:
		return rendered{}, fmt.Errorf("unknown export kind %q", kind)
	}
}

// renderMatrixCSV writes the call matrix with one row per individual. Missing
// calls render as "-", matching the report convention.
func renderMatrixCSV(ds domain.Dataset) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	header := make([]string, 0, 2+len(ds.Loci))
	header = append(header, "sample_id", "population")
	for _, locus := range ds.Loci {
		name := locus.AlleleID
		if name == "" {
			name = locus.CloneID
		}
		header = append(header, name)
	}
	if err := cw.Write(header); err != nil {
		return nil, err
	}
	for i, ind := range ds.Individuals {
		row := make([]string, 0, len(header))
		row = append(row, ind.SampleID, ind.Population)
		for _, call := range ds.Calls[i] {
			if call.Missing() {
				row = append(row, "-")
			} else {
				row = append(row, strconv.Itoa(int(call)))
			}
		}
		if err := cw.Write(row); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	return buf.Bytes(), cw.Error()
}

// renderProformaCSV writes the two-column population recode proforma: each
// current population mapped to itself, ready for manual editing.
func renderProformaCSV(ds domain.Dataset) ([]byte, error) {
	seen := map[string]bool{}
	var pops []string
	for _, ind := range ds.Individuals {
		if ind.Population == "" || seen[ind.Population] {
			continue
		}
		seen[ind.Population] = true
		pops = append(pops, ind.Population)
	}
	sort.Strings(pops)

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write([]string{"old", "new"}); err != nil {
		return nil, err
	}
	for _, pop := range pops {
		if err := cw.Write([]string{pop, pop}); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	return buf.Bytes(), cw.Error()
}

type summary struct {
	DatasetID      string         `json:"dataset_id"`
	Name           string         `json:"name"`
	Type           string         `json:"type"`
	NumIndividuals int            `json:"num_individuals"`
	NumLoci        int            `json:"num_loci"`
	Populations    map[string]int `json:"populations"`
	MeanCallRate   float64        `json:"mean_call_rate"`
	GeneratedAt    time.Time      `json:"generated_at"`
}

// renderSummaryJSON writes the dataset shape, population sizes and mean
// locus call rate.
func renderSummaryJSON(ds domain.Dataset) ([]byte, error) {
	pops := map[string]int{}
	for _, ind := range ds.Individuals {
		if ind.Population != "" {
			pops[ind.Population]++
		}
	}
	mean := 0.0
	if n := ds.NumLoci(); n > 0 {
		total := 0.0
		for j := 0; j < n; j++ {
			total += ds.LocusCallRate(j)
		}
		mean = total / float64(n)
	}
	return json.MarshalIndent(summary{
		DatasetID:      ds.ID,
		Name:           ds.Name,
		Type:           string(ds.Type),
		NumIndividuals: ds.NumIndividuals(),
		NumLoci:        ds.NumLoci(),
		Populations:    pops,
		MeanCallRate:   mean,
		GeneratedAt:    time.Now().UTC(),
	}, "", "  ")
}
