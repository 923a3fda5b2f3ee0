package server

import (
	"encoding/json"

	"helioflow/internal/domain"
	"helioflow/internal/engine"
)

// Request payloads

type CreateProjectRequest struct {
	Name                  string  `json:"name"`
	Address               *string `json:"address,omitempty"`
	CrewID                *string `json:"crew_id,omitempty"`
	EquipmentExpectedDate *string `json:"equipment_expected_date,omitempty" format:"date"`
	WorkStartDate         *string `json:"work_start_date,omitempty" format:"date"`
	WorkEndDate           *string `json:"work_end_date,omitempty" format:"date"`
}

type SetProjectStatusRequest struct {
	Status      string `json:"status"`
	FastForward bool   `json:"fast_forward,omitempty"`
}

type SetProjectDatesRequest struct {
	EquipmentExpectedDate *string `json:"equipment_expected_date,omitempty" format:"date"`
	EquipmentArrivedDate  *string `json:"equipment_arrived_date,omitempty" format:"date"`
	WorkStartDate         *string `json:"work_start_date,omitempty" format:"date"`
	WorkEndDate           *string `json:"work_end_date,omitempty" format:"date"`
}

type SetProjectCrewRequest struct {
	CrewID string `json:"crew_id"`
}

type CreateCrewRequest struct {
	Name string `json:"name"`
}

type CreateReclamationRequest struct {
	Description string `json:"description"`
	Deadline    string `json:"deadline" format:"date"`
	CrewID      string `json:"crew_id"`
}

type RejectReclamationRequest struct {
	Reason string `json:"reason"`
}

type CompleteReclamationRequest struct {
	Notes *string `json:"notes,omitempty"`
}

// Response payloads

type ProjectResponse struct {
	ID                    string  `json:"id"`
	FirmID                string  `json:"firm_id"`
	Name                  string  `json:"name"`
	Address               string  `json:"address,omitempty"`
	Status                string  `json:"status"`
	StatusSchema          string  `json:"status_schema" enum:"standard,legacy"`
	CrewID                *string `json:"crew_id,omitempty"`
	EquipmentExpectedDate *string `json:"equipment_expected_date,omitempty" format:"date"`
	EquipmentArrivedDate  *string `json:"equipment_arrived_date,omitempty" format:"date"`
	WorkStartDate         *string `json:"work_start_date,omitempty" format:"date"`
	WorkEndDate           *string `json:"work_end_date,omitempty" format:"date"`
	InvoiceNumber         *string `json:"invoice_number,omitempty"`
	InvoiceURL            *string `json:"invoice_url,omitempty"`
	ReclamationOpen       bool    `json:"reclamation_open"`
	CreatedAt             string  `json:"created_at" format:"date-time"`
	UpdatedAt             string  `json:"updated_at" format:"date-time"`
}

type CrewResponse struct {
	ID        string `json:"id"`
	FirmID    string `json:"firm_id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ReclamationResponse struct {
	ID              string  `json:"id"`
	ProjectID       string  `json:"project_id"`
	Description     string  `json:"description"`
	Deadline        string  `json:"deadline" format:"date"`
	Status          string  `json:"status" enum:"pending,accepted,rejected,in_progress,completed"`
	OriginalCrewID  string  `json:"original_crew_id"`
	CurrentCrewID   string  `json:"current_crew_id"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
	ResolutionNotes *string `json:"resolution_notes,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

type SuggestionResponse struct {
	Suggestion *engine.Suggestion `json:"suggestion"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	FirmID     string         `json:"firm_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type MeResponse struct {
	ActorID string  `json:"actor_id"`
	Role    string  `json:"role"`
	CrewID  *string `json:"crew_id,omitempty"`
	Source  string  `json:"source"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:                    p.ID,
		FirmID:                p.FirmID,
		Name:                  p.Name,
		Address:               p.Address,
		Status:                string(p.Status),
		StatusSchema:          string(p.Schema),
		CrewID:                p.CrewID,
		EquipmentExpectedDate: p.EquipmentExpectedDate,
		EquipmentArrivedDate:  p.EquipmentArrivedDate,
		WorkStartDate:         p.WorkStartDate,
		WorkEndDate:           p.WorkEndDate,
		InvoiceNumber:         p.InvoiceNumber,
		InvoiceURL:            p.InvoiceURL,
		ReclamationOpen:       p.ReclamationOpen,
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func crewResponse(c domain.Crew) CrewResponse {
	return CrewResponse{ID: c.ID, FirmID: c.FirmID, Name: c.Name, CreatedAt: c.CreatedAt}
}

func reclamationResponse(rec domain.Reclamation) ReclamationResponse {
	return ReclamationResponse{
		ID:              rec.ID,
		ProjectID:       rec.ProjectID,
		Description:     rec.Description,
		Deadline:        rec.Deadline,
		Status:          string(rec.Status),
		OriginalCrewID:  rec.OriginalCrewID,
		CurrentCrewID:   rec.CurrentCrewID,
		RejectionReason: rec.RejectionReason,
		ResolutionNotes: rec.ResolutionNotes,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
}

func mapReclamations(items []domain.Reclamation) []ReclamationResponse {
	res := make([]ReclamationResponse, 0, len(items))
	for _, rec := range items {
		res = append(res, reclamationResponse(rec))
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	payload := map[string]any{}
	if e.Payload != "" {
		_ = json.Unmarshal([]byte(e.Payload), &payload)
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		FirmID:     e.FirmID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}
