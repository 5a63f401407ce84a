package core

import "zonecore/pkg/domain"

type (
	CellID             = domain.CellID
	RecordType         = domain.RecordType
	TagType            = domain.TagType
	Mode               = domain.Mode
	InteractionState   = domain.InteractionState
	Zone               = domain.Zone
	ZoneTag            = domain.ZoneTag
	CellState          = domain.CellState
	CellFlags          = domain.CellFlags
	GeofenceEvent      = domain.GeofenceEvent
	GeofenceEventType  = domain.GeofenceEventType
	PositionUpdate     = domain.PositionUpdate
	TrackedEntity      = domain.TrackedEntity
	InteractionEvent   = domain.InteractionEvent
	MutationType       = domain.MutationType
	PendingMutation    = domain.PendingMutation
	AuditRecord        = domain.AuditRecord
	TimelineState      = domain.TimelineState
	Change             = domain.Change
	Action             = domain.Action
	Severity           = domain.Severity
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
)

const (
	RecordZone  = domain.RecordZone
	RecordTag   = domain.RecordTag
	RecordAudit = domain.RecordAudit
)

const (
	TagRestricted   = domain.TagRestricted
	TagHazard       = domain.TagHazard
	TagSurveillance = domain.TagSurveillance
	TagMaintenance  = domain.TagMaintenance
	TagIncident     = domain.TagIncident
)

const (
	ModeMonitoring = domain.ModeMonitoring
	ModePlanning   = domain.ModePlanning
	ModeForensic   = domain.ModeForensic
)

const (
	StateIdle       = domain.StateIdle
	StateSelect     = domain.StateSelect
	StateCellSelect = domain.StateCellSelect
	StateDraw       = domain.StateDraw
	StateTag        = domain.StateTag
	StateConfirm    = domain.StateConfirm
	StateInspect    = domain.StateInspect
	StateLocked     = domain.StateLocked
)

const (
	EventZoneExit  = domain.EventZoneExit
	EventZoneEnter = domain.EventZoneEnter
)

const (
	MutationZoneCreate     = domain.MutationZoneCreate
	MutationZoneUpdate     = domain.MutationZoneUpdate
	MutationZoneDeactivate = domain.MutationZoneDeactivate
	MutationTagApply       = domain.MutationTagApply
	MutationTagUpdate      = domain.MutationTagUpdate
)

const (
	ActionCreate     = domain.ActionCreate
	ActionUpdate     = domain.ActionUpdate
	ActionDeactivate = domain.ActionDeactivate
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)
