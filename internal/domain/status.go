package domain

import "fmt"

// StatusSchema selects which lifecycle chain a project follows. A project is
// pinned to one schema at creation and never mixes the two.
type StatusSchema string

const (
	SchemaStandard StatusSchema = "standard"
	SchemaLegacy   StatusSchema = "legacy"
)

func ParseStatusSchema(s string) (StatusSchema, error) {
	switch StatusSchema(s) {
	case SchemaStandard, SchemaLegacy:
		return StatusSchema(s), nil
	case "":
		return SchemaStandard, nil
	}
	return "", fmt.Errorf("unknown status schema %q", s)
}

// ProjectStatus is one lifecycle stage. The zero value is not valid.
type ProjectStatus string

const (
	StatusPlanning         ProjectStatus = "planning"
	StatusEquipmentWaiting ProjectStatus = "equipment_waiting"
	StatusEquipmentArrived ProjectStatus = "equipment_arrived"
	StatusWorkScheduled    ProjectStatus = "work_scheduled"
	StatusWorkInProgress   ProjectStatus = "work_in_progress"
	StatusWorkCompleted    ProjectStatus = "work_completed"
	StatusDone             ProjectStatus = "done" // legacy schema only
	StatusInvoiced         ProjectStatus = "invoiced"
	StatusSendInvoice      ProjectStatus = "send_invoice"
	StatusInvoiceSent      ProjectStatus = "invoice_sent"
	StatusPaid             ProjectStatus = "paid"
)

var schemaChains = map[StatusSchema][]ProjectStatus{
	SchemaStandard: {
		StatusPlanning,
		StatusEquipmentWaiting,
		StatusEquipmentArrived,
		StatusWorkScheduled,
		StatusWorkInProgress,
		StatusWorkCompleted,
		StatusInvoiced,
		StatusSendInvoice,
		StatusInvoiceSent,
		StatusPaid,
	},
	SchemaLegacy: {
		StatusPlanning,
		StatusEquipmentWaiting,
		StatusEquipmentArrived,
		StatusWorkScheduled,
		StatusWorkInProgress,
		StatusDone,
		StatusInvoiced,
		StatusPaid,
	},
}

// Chain returns the ordered status list for a schema.
func (s StatusSchema) Chain() []ProjectStatus {
	chain := schemaChains[s]
	out := make([]ProjectStatus, len(chain))
	copy(out, chain)
	return out
}

// Index returns the position of status in the schema's chain, or -1 when the
// status does not belong to the schema.
func (s StatusSchema) Index(status ProjectStatus) int {
	for i, st := range schemaChains[s] {
		if st == status {
			return i
		}
	}
	return -1
}

// Next returns the single allowed next stage, or "" at the chain's end.
func (s StatusSchema) Next(status ProjectStatus) ProjectStatus {
	i := s.Index(status)
	chain := schemaChains[s]
	if i < 0 || i+1 >= len(chain) {
		return ""
	}
	return chain[i+1]
}

// CanAdvance reports whether target is the immediate next stage after current
// in this schema.
func (s StatusSchema) CanAdvance(current, target ProjectStatus) bool {
	ci, ti := s.Index(current), s.Index(target)
	return ci >= 0 && ti >= 0 && ti == ci+1
}

// IsForward reports whether target is strictly later than current in this
// schema (any number of stages ahead).
func (s StatusSchema) IsForward(current, target ProjectStatus) bool {
	ci, ti := s.Index(current), s.Index(target)
	return ci >= 0 && ti >= 0 && ti > ci
}

// ParseProjectStatus validates raw against the given schema.
func ParseProjectStatus(schema StatusSchema, raw string) (ProjectStatus, error) {
	st := ProjectStatus(raw)
	if schema.Index(st) < 0 {
		return "", fmt.Errorf("status %q not in schema %s", raw, schema)
	}
	return st, nil
}

// Invoiced reports whether the status is at or past invoice creation, i.e.
// the stages where an invoice number must exist.
func (s StatusSchema) Invoiced(status ProjectStatus) bool {
	ii := s.Index(StatusInvoiced)
	si := s.Index(status)
	return ii >= 0 && si >= ii
}

// ReclamationStatus is one stage of the complaint workflow.
type ReclamationStatus string

const (
	ReclamationPending    ReclamationStatus = "pending"
	ReclamationAccepted   ReclamationStatus = "accepted"
	ReclamationRejected   ReclamationStatus = "rejected"
	ReclamationInProgress ReclamationStatus = "in_progress"
	ReclamationCompleted  ReclamationStatus = "completed"
)

var reclamationTransitions = map[ReclamationStatus][]ReclamationStatus{
	ReclamationPending:    {ReclamationAccepted, ReclamationRejected},
	ReclamationAccepted:   {ReclamationInProgress, ReclamationCompleted},
	ReclamationRejected:   {ReclamationAccepted}, // taken by another crew
	ReclamationInProgress: {ReclamationCompleted},
	ReclamationCompleted:  {},
}

// CanTransition reports whether a reclamation may move from one status to
// another.
func (s ReclamationStatus) CanTransition(to ReclamationStatus) bool {
	for _, allowed := range reclamationTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions exist.
func (s ReclamationStatus) Terminal() bool {
	return len(reclamationTransitions[s]) == 0
}

// Active reports whether the reclamation still blocks its project's
// lifecycle. Rejected complaints stay active: they sit in the pool waiting
// for another crew.
func (s ReclamationStatus) Active() bool {
	return s != ReclamationCompleted
}
