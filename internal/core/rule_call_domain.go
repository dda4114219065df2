package core

import (
	"context"
	"fmt"

	"dartcore/pkg/domain"
)

// NewCallDomainRule returns the blocking rule rejecting datasets whose calls
// fall outside the value domain of their declared type.
func NewCallDomainRule() domain.Rule {
	return callDomainRule{}
}

type callDomainRule struct{}

func (callDomainRule) Name() string { return "call_domain" }

func (callDomainRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, ds := range view.ListDatasets() {
		if err := ds.ValidateCallDomain(); err != nil {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "call_domain",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("dataset %s (%s): %v", ds.Name, ds.ID, err),
				Entity:   domain.EntityDataset,
				EntityID: ds.ID,
			})
		}
	}
	return res, nil
}
