package domain

import "testing"

func snpDataset() Dataset {
	return Dataset{
		Base: Base{ID: "ds-1"},
		Name: "trial",
		Type: DatasetSNP,
		Calls: [][]Call{
			{0, 1, CallMissing},
			{2, 1, 0},
			{CallMissing, 1, 0},
			{2, 1, CallMissing},
		},
		Loci: []LocusMetadata{
			{AlleleID: "100028644|F|0-27:G>A"},
			{AlleleID: "100028645|F|0-12:C>T"},
			{AlleleID: "100028646|F|0-44:A>G"},
		},
		Individuals: []IndividualRecord{
			{SampleID: "ind1", Population: "north"},
			{SampleID: "ind2", Population: "north"},
			{SampleID: "ind3", Population: "south"},
			{SampleID: "ind4", Population: "south"},
		},
	}
}

func TestLocusCallRate(t *testing.T) {
	ds := snpDataset()
	if got := ds.LocusCallRate(0); got != 0.75 {
		t.Fatalf("locus 0 call rate = %v, want 0.75", got)
	}
	if got := ds.LocusCallRate(1); got != 1.0 {
		t.Fatalf("locus 1 call rate = %v, want 1.0", got)
	}
	if got := ds.LocusCallRate(2); got != 0.5 {
		t.Fatalf("locus 2 call rate = %v, want 0.5", got)
	}
}

func TestIndividualCallRate(t *testing.T) {
	ds := snpDataset()
	want := []float64{2.0 / 3.0, 1.0, 2.0 / 3.0, 2.0 / 3.0}
	for i, w := range want {
		if got := ds.IndividualCallRate(i); got != w {
			t.Fatalf("individual %d call rate = %v, want %v", i, got, w)
		}
	}
}

func TestAlleleFrequency(t *testing.T) {
	ds := snpDataset()
	// locus 0: calls 0,2,2 over 3 called -> 4/6
	if got := ds.AlleleFrequency(0); got != 4.0/6.0 {
		t.Fatalf("locus 0 allele freq = %v, want %v", got, 4.0/6.0)
	}
	// locus 1: all het -> 4/8
	if got := ds.AlleleFrequency(1); got != 0.5 {
		t.Fatalf("locus 1 allele freq = %v, want 0.5", got)
	}
}

func TestAlleleFrequencySilico(t *testing.T) {
	ds := Dataset{
		Type:        DatasetSilico,
		Calls:       [][]Call{{1}, {0}, {1}, {CallMissing}},
		Loci:        []LocusMetadata{{CloneID: "c1"}},
		Individuals: make([]IndividualRecord, 4),
	}
	if got := ds.AlleleFrequency(0); got != 2.0/3.0 {
		t.Fatalf("presence freq = %v, want %v", got, 2.0/3.0)
	}
}

func TestIsMonomorphic(t *testing.T) {
	ds := Dataset{
		Type: DatasetSNP,
		Calls: [][]Call{
			{0, 1, CallMissing, 2},
			{0, 1, CallMissing, 2},
			{0, 2, CallMissing, 2},
		},
	}
	cases := []struct {
		locus int
		want  bool
	}{
		{0, true},  // uniform
		{1, false}, // varies
		{2, true},  // all missing counts as monomorphic
		{3, true},  // uniform hom alt
	}
	for _, tc := range cases {
		if got := ds.IsMonomorphic(tc.locus); got != tc.want {
			t.Fatalf("IsMonomorphic(%d) = %v, want %v", tc.locus, got, tc.want)
		}
	}
}

func TestRecalcMetrics(t *testing.T) {
	ds := snpDataset()
	ds.RecalcMetrics()
	if ds.Loci[0].CallRate != 0.75 {
		t.Fatalf("recalculated call rate = %v, want 0.75", ds.Loci[0].CallRate)
	}
	if ds.Loci[1].AlleleFreq != 0.5 {
		t.Fatalf("recalculated allele freq = %v, want 0.5", ds.Loci[1].AlleleFreq)
	}
}

func TestValidateAlignment(t *testing.T) {
	ds := snpDataset()
	if err := ds.ValidateAlignment(); err != nil {
		t.Fatalf("aligned dataset rejected: %v", err)
	}
	broken := ds.Clone()
	broken.Individuals = broken.Individuals[:2]
	if err := broken.ValidateAlignment(); err == nil {
		t.Fatalf("expected individual misalignment error")
	}
	ragged := ds.Clone()
	ragged.Calls[1] = ragged.Calls[1][:2]
	if err := ragged.ValidateAlignment(); err == nil {
		t.Fatalf("expected ragged matrix error")
	}
	extraLoci := ds.Clone()
	extraLoci.Loci = append(extraLoci.Loci, LocusMetadata{AlleleID: "x"})
	if err := extraLoci.ValidateAlignment(); err == nil {
		t.Fatalf("expected locus misalignment error")
	}
}

func TestValidateCallDomain(t *testing.T) {
	ds := snpDataset()
	if err := ds.ValidateCallDomain(); err != nil {
		t.Fatalf("valid calls rejected: %v", err)
	}
	bad := ds.Clone()
	bad.Calls[0][0] = 3
	if err := bad.ValidateCallDomain(); err == nil {
		t.Fatalf("expected domain error for dosage 3")
	}
	silico := ds.Clone()
	silico.Type = DatasetSilico
	// dosage 2 is out of range for presence/absence
	if err := silico.ValidateCallDomain(); err == nil {
		t.Fatalf("expected domain error for silico dataset with dosage calls")
	}
	unknown := ds.Clone()
	unknown.Type = "other"
	if err := unknown.ValidateCallDomain(); err == nil {
		t.Fatalf("expected unknown type error")
	}
}

func TestDatasetCloneIsDeep(t *testing.T) {
	ds := snpDataset()
	lat := 12.5
	ds.Individuals[0].Latitude = &lat
	ds.Individuals[0].Covariates = map[string]string{"sex": "f"}
	cp := ds.Clone()
	cp.Calls[0][0] = 2
	cp.Individuals[0].Population = "west"
	*cp.Individuals[0].Latitude = -3
	cp.Individuals[0].Covariates["sex"] = "m"
	cp.Loci[0].CallRate = 0.1
	if ds.Calls[0][0] != 0 {
		t.Fatalf("clone shares call matrix")
	}
	if ds.Individuals[0].Population != "north" || *ds.Individuals[0].Latitude != 12.5 {
		t.Fatalf("clone shares individual records")
	}
	if ds.Individuals[0].Covariates["sex"] != "f" {
		t.Fatalf("clone shares covariate map")
	}
	if ds.Loci[0].CallRate != 0 {
		t.Fatalf("clone shares locus metadata")
	}
}
