package domain

// EventType names a QMS domain event. Business modules publish through this
// enumeration; subscriptions store event types as plain strings so new types
// can be added without a registry migration.
type EventType string

const (
	EventNCRCreated        EventType = "ncr.created"
	EventNCRUpdated        EventType = "ncr.updated"
	EventNCRClosed         EventType = "ncr.closed"
	EventCAPACreated       EventType = "capa.created"
	EventCAPAStatusChanged EventType = "capa.status_changed"
	EventCAPAClosed        EventType = "capa.closed"
	EventAuditScheduled    EventType = "audit.scheduled"
	EventAuditCompleted    EventType = "audit.completed"
	EventDocumentApproved  EventType = "document.approved"
	EventDocumentObsoleted EventType = "document.obsoleted"
	EventTrainingCompleted EventType = "training.completed"
	EventRiskCreated       EventType = "risk.created"
	EventRiskUpdated       EventType = "risk.updated"
	EventProcessUpdated    EventType = "process.updated"
)

var knownEventTypes = map[EventType]struct{}{
	EventNCRCreated:        {},
	EventNCRUpdated:        {},
	EventNCRClosed:         {},
	EventCAPACreated:       {},
	EventCAPAStatusChanged: {},
	EventCAPAClosed:        {},
	EventAuditScheduled:    {},
	EventAuditCompleted:    {},
	EventDocumentApproved:  {},
	EventDocumentObsoleted: {},
	EventTrainingCompleted: {},
	EventRiskCreated:       {},
	EventRiskUpdated:       {},
	EventProcessUpdated:    {},
}

// Known reports whether e is a recognized QMS event type.
func (e EventType) Known() bool {
	_, ok := knownEventTypes[e]
	return ok
}

func (e EventType) String() string {
	return string(e)
}
