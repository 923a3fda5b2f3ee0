package domain

// Firm is a solar-installation company. Each firm picks one status schema
// for its projects at onboarding.
type Firm struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	StatusSchema StatusSchema `json:"status_schema"`
	CreatedAt    string       `json:"created_at" format:"date-time"`
}

// Crew is an installation team belonging to a firm.
type Crew struct {
	ID        string `json:"id"`
	FirmID    string `json:"firm_id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Project is one installation job. Status only moves forward along the
// project's schema; invoice fields are set once and never change after.
type Project struct {
	ID                    string        `json:"id"`
	FirmID                string        `json:"firm_id"`
	Name                  string        `json:"name"`
	Address               string        `json:"address,omitempty"`
	Status                ProjectStatus `json:"status"`
	Schema                StatusSchema  `json:"status_schema"`
	CrewID                *string       `json:"crew_id,omitempty"`
	EquipmentExpectedDate *string       `json:"equipment_expected_date,omitempty" format:"date"`
	EquipmentArrivedDate  *string       `json:"equipment_arrived_date,omitempty" format:"date"`
	WorkStartDate         *string       `json:"work_start_date,omitempty" format:"date"`
	WorkEndDate           *string       `json:"work_end_date,omitempty" format:"date"`
	InvoiceNumber         *string       `json:"invoice_number,omitempty"`
	InvoiceURL            *string       `json:"invoice_url,omitempty"`
	ReclamationOpen       bool          `json:"reclamation_open"`
	CreatedAt             string        `json:"created_at" format:"date-time"`
	UpdatedAt             string        `json:"updated_at" format:"date-time"`
}

// Reclamation is a post-installation quality complaint routed to a crew.
// OriginalCrewID is fixed at creation; CurrentCrewID changes when another
// crew takes a rejected complaint from the pool.
type Reclamation struct {
	ID              string            `json:"id"`
	ProjectID       string            `json:"project_id"`
	Description     string            `json:"description"`
	Deadline        string            `json:"deadline" format:"date"`
	Status          ReclamationStatus `json:"status"`
	OriginalCrewID  string            `json:"original_crew_id"`
	CurrentCrewID   string            `json:"current_crew_id"`
	RejectionReason *string           `json:"rejection_reason,omitempty"`
	ResolutionNotes *string           `json:"resolution_notes,omitempty"`
	CreatedAt       string            `json:"created_at" format:"date-time"`
	UpdatedAt       string            `json:"updated_at" format:"date-time"`
}

// Event is one entry of the append-only change log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	FirmID     string `json:"firm_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIKey authenticates a machine actor. The plain key is shown once at
// creation; only the hash is stored.
type APIKey struct {
	ID        string  `json:"id"`
	ActorID   string  `json:"actor_id"`
	Role      string  `json:"role"`
	CrewID    *string `json:"crew_id,omitempty"`
	Name      string  `json:"name,omitempty"`
	KeyHash   string  `json:"-"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}
