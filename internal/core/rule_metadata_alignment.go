package core

import (
	"context"
	"fmt"

	"dartcore/pkg/domain"
)

// NewMetadataAlignmentRule returns the blocking rule that keeps locus and
// individual metadata aligned with the call matrix after every commit.
func NewMetadataAlignmentRule() domain.Rule {
	return metadataAlignmentRule{}
}

type metadataAlignmentRule struct{}

func (metadataAlignmentRule) Name() string { return "metadata_alignment" }

func (metadataAlignmentRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, ds := range view.ListDatasets() {
		if err := ds.ValidateAlignment(); err != nil {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "metadata_alignment",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("dataset %s (%s): %v", ds.Name, ds.ID, err),
				Entity:   domain.EntityDataset,
				EntityID: ds.ID,
			})
		}
	}
	return res, nil
}
