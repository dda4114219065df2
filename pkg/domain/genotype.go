package domain

import "fmt"

// Call is a single genotype score. SNP datasets hold the alternate-allele
// dosage {0,1,2}; SilicoDArT datasets hold presence/absence {0,1}. Missing
// calls are CallMissing in both.
type Call int8

const (
	// CallMissing marks an uncalled genotype.
	CallMissing Call = -1
	// CallHomRef is a homozygous reference call (SNP datasets).
	CallHomRef Call = 0
	// CallHet is a heterozygous call (SNP datasets).
	CallHet Call = 1
	// CallHomAlt is a homozygous alternate call (SNP datasets).
	CallHomAlt Call = 2
	// CallAbsent marks fragment absence (SilicoDArT datasets).
	CallAbsent Call = 0
	// CallPresent marks fragment presence (SilicoDArT datasets).
	CallPresent Call = 1
)

// Missing reports whether the call is uncalled.
func (c Call) Missing() bool { return c == CallMissing }

// InDomain reports whether the call value is legal for the dataset type.
func (c Call) InDomain(t DatasetType) bool {
	if c == CallMissing {
		return true
	}
	switch t {
	case DatasetSNP:
		return c >= 0 && c <= 2
	case DatasetSilico:
		return c == 0 || c == 1
	}
	return false
}

// NumIndividuals returns the row count of the call matrix.
func (d Dataset) NumIndividuals() int { return len(d.Calls) }

// NumLoci returns the column count of the call matrix.
func (d Dataset) NumLoci() int {
	if len(d.Calls) == 0 {
		return len(d.Loci)
	}
	return len(d.Calls[0])
}

// LocusCallRate returns the fraction of non-missing calls at locus column j.
// A dataset with no individuals reports 0.
func (d Dataset) LocusCallRate(j int) float64 {
	if len(d.Calls) == 0 {
		return 0
	}
	called := 0
	for i := range d.Calls {
		if !d.Calls[i][j].Missing() {
			called++
		}
	}
	return float64(called) / float64(len(d.Calls))
}

// IndividualCallRate returns the fraction of non-missing calls for
// individual row i. A dataset with no loci reports 0.
func (d Dataset) IndividualCallRate(i int) float64 {
	row := d.Calls[i]
	if len(row) == 0 {
		return 0
	}
	called := 0
	for _, c := range row {
		if !c.Missing() {
			called++
		}
	}
	return float64(called) / float64(len(row))
}

// AlleleFrequency returns the alternate allele frequency at locus column j
// for SNP datasets (dosage sum over twice the called count). For SilicoDArT
// datasets it returns the presence frequency. All-missing loci report 0.
func (d Dataset) AlleleFrequency(j int) float64 {
	called := 0
	sum := 0
	for i := range d.Calls {
		c := d.Calls[i][j]
		if c.Missing() {
			continue
		}
		called++
		sum += int(c)
	}
	if called == 0 {
		return 0
	}
	if d.Type == DatasetSilico {
		return float64(sum) / float64(called)
	}
	return float64(sum) / float64(2*called)
}

// IsMonomorphic reports whether locus column j shows no variation among its
// non-missing calls. All-missing loci count as monomorphic.
func (d Dataset) IsMonomorphic(j int) bool {
	var first Call
	seen := false
	for i := range d.Calls {
		c := d.Calls[i][j]
		if c.Missing() {
			continue
		}
		if !seen {
			first = c
			seen = true
			continue
		}
		if c != first {
			return false
		}
	}
	return true
}

// RecalcMetrics refreshes the recomputed per-locus metrics (call rate and
// allele frequency) against the individuals currently in the dataset.
func (d *Dataset) RecalcMetrics() {
	for j := range d.Loci {
		d.Loci[j].CallRate = d.LocusCallRate(j)
		d.Loci[j].AlleleFreq = d.AlleleFrequency(j)
	}
}

// ValidateAlignment checks the matrix/metadata alignment invariants: the
// individual table matches the matrix rows, the locus table matches the
// matrix columns, and the matrix is rectangular.
func (d Dataset) ValidateAlignment() error {
	if len(d.Individuals) != len(d.Calls) {
		return fmt.Errorf("individual metadata rows (%d) do not match matrix rows (%d)", len(d.Individuals), len(d.Calls))
	}
	for i, row := range d.Calls {
		if len(row) != len(d.Loci) {
			return fmt.Errorf("matrix row %d has %d calls, locus metadata has %d rows", i, len(row), len(d.Loci))
		}
	}
	return nil
}

// ValidateCallDomain checks that every call lies in the dataset type's
// value domain.
func (d Dataset) ValidateCallDomain() error {
	if d.Type != DatasetSNP && d.Type != DatasetSilico {
		return fmt.Errorf("unknown dataset type %q", d.Type)
	}
	for i, row := range d.Calls {
		for j, c := range row {
			if !c.InDomain(d.Type) {
				return fmt.Errorf("call [%d,%d]=%d outside %s domain", i, j, c, d.Type)
			}
		}
	}
	return nil
}
