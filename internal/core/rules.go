package core

import "dartcore/pkg/domain"

// NewDefaultRulesEngine returns the engine evaluated at every transaction
// commit: blocking alignment and call-domain checks plus a warning on
// unlabeled populations.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewMetadataAlignmentRule())
	engine.Register(NewCallDomainRule())
	engine.Register(NewPopulationLabelsRule())
	return engine
}
