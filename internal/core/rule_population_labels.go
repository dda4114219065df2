package core

import (
	"context"
	"fmt"

	"dartcore/pkg/domain"
)

// NewPopulationLabelsRule returns a warning rule flagging individuals with no
// population label. Unlabeled individuals degrade downstream recoding, so the
// commit proceeds but the caller sees the count.
func NewPopulationLabelsRule() domain.Rule {
	return populationLabelsRule{}
}

type populationLabelsRule struct{}

func (populationLabelsRule) Name() string { return "population_labels" }

func (populationLabelsRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, ds := range view.ListDatasets() {
		unlabeled := 0
		for _, ind := range ds.Individuals {
			if ind.Population == "" {
				unlabeled++
			}
		}
		if unlabeled > 0 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "population_labels",
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("dataset %s (%s): %d of %d individuals have no population label", ds.Name, ds.ID, unlabeled, ds.NumIndividuals()),
				Entity:   domain.EntityDataset,
				EntityID: ds.ID,
			})
		}
	}
	return res, nil
}
