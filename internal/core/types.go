package core

import "dartcore/pkg/domain"

type (
	EntityType         = domain.EntityType
	DatasetType        = domain.DatasetType
	ReportFormat       = domain.ReportFormat
	Severity           = domain.Severity
	Base               = domain.Base
	Call               = domain.Call
	Dataset            = domain.Dataset
	LocusMetadata      = domain.LocusMetadata
	IndividualRecord   = domain.IndividualRecord
	RecodeTable        = domain.RecodeTable
	RecodeEntry        = domain.RecodeEntry
	ReportFile         = domain.ReportFile
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine
)

const (
	EntityDataset     = domain.EntityDataset
	EntityRecodeTable = domain.EntityRecodeTable
	EntityReportFile  = domain.EntityReportFile
)

const (
	DatasetSNP    = domain.DatasetSNP
	DatasetSilico = domain.DatasetSilico
)

const (
	FormatSNPOneRow = domain.FormatSNPOneRow
	FormatSNPTwoRow = domain.FormatSNPTwoRow
	FormatSilico    = domain.FormatSilico
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)

// RecodeDelete mirrors the sentinel population name that drops individuals.
const RecodeDelete = domain.RecodeDelete
