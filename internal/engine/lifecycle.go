package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"helioflow/internal/domain"
	"helioflow/internal/engine/auth"
	"helioflow/internal/events"
	"helioflow/internal/repo"
)

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	FirmID                string
	Name                  string
	Address               string
	CrewID                string
	EquipmentExpectedDate string
	WorkStartDate         string
	WorkEndDate           string
	Actor                 auth.Actor
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	if !opts.Actor.ManagesProjects() {
		return domain.Project{}, ForbiddenError{Operation: "project.create"}
	}
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Project{}, ValidationError{Field: "name", Reason: "required"}
	}
	for _, d := range []struct{ field, value string }{
		{"equipment_expected_date", opts.EquipmentExpectedDate},
		{"work_start_date", opts.WorkStartDate},
		{"work_end_date", opts.WorkEndDate},
	} {
		if err := validateDate(d.field, d.value); err != nil {
			return domain.Project{}, err
		}
	}
	schema, err := e.resolveFirmSchema(ctx, opts.FirmID)
	if err != nil {
		return domain.Project{}, err
	}
	if opts.CrewID != "" {
		crew, err := e.Repo.GetCrew(ctx, opts.CrewID)
		if err != nil {
			return domain.Project{}, err
		}
		if crew.FirmID != opts.FirmID {
			return domain.Project{}, ValidationError{Field: "crew_id", Reason: "crew belongs to another firm"}
		}
	}
	now := e.nowString()
	p := domain.Project{
		ID:                    uuid.NewString(),
		FirmID:                opts.FirmID,
		Name:                  opts.Name,
		Address:               opts.Address,
		Status:                domain.StatusPlanning,
		Schema:                schema,
		CrewID:                optionalString(opts.CrewID),
		EquipmentExpectedDate: optionalString(opts.EquipmentExpectedDate),
		WorkStartDate:         optionalString(opts.WorkStartDate),
		WorkEndDate:           optionalString(opts.WorkEndDate),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeProjectCreated, p.FirmID, "project", p.ID, opts.Actor.ID, events.EventPayload{
		"status": string(p.Status),
		"schema": string(p.Schema),
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ApplyStatusOptions are parameters for a project status change.
type ApplyStatusOptions struct {
	ProjectID string
	Target    string
	// FastForward allows jumping several stages ahead in one call. Admin only.
	FastForward bool
	Actor       auth.Actor
}

// ApplyStatus moves a project forward along its schema's chain. Entering the
// invoiced stage creates the invoice through the external service before the
// change commits; a service failure leaves the project untouched.
func (e Engine) ApplyStatus(ctx context.Context, opts ApplyStatusOptions) (domain.Project, error) {
	if !opts.Actor.ManagesProjects() {
		return domain.Project{}, ForbiddenError{Operation: "project.status"}
	}
	if opts.FastForward && !opts.Actor.IsAdmin() {
		return domain.Project{}, ForbiddenError{Operation: "project.status.fastforward"}
	}

	p, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Project{}, err
	}
	target, err := domain.ParseProjectStatus(p.Schema, opts.Target)
	if err != nil {
		return domain.Project{}, InvalidTransitionError{From: p.Status, To: domain.ProjectStatus(opts.Target)}
	}
	if p.ReclamationOpen {
		return domain.Project{}, InvalidStateError{Entity: "project", State: string(p.Status), Reason: "open reclamation blocks status changes"}
	}
	// Re-requesting an invoiced-band status the project already holds is a
	// no-op: the invoice exists and must not be created twice.
	if target == p.Status && p.Schema.Invoiced(target) && p.InvoiceNumber != nil {
		return p, nil
	}
	allowed := p.Schema.CanAdvance(p.Status, target)
	if opts.FastForward {
		allowed = p.Schema.IsForward(p.Status, target)
	}
	if !allowed {
		return domain.Project{}, InvalidTransitionError{From: p.Status, To: target}
	}

	// Invoice creation only fires when this change first crosses into the
	// invoiced band. Replays and fast-forwards past an existing invoice
	// skip the external call.
	needsInvoice := p.Schema.Invoiced(target) && !p.Schema.Invoiced(p.Status) && p.InvoiceNumber == nil
	if needsInvoice {
		return e.applyStatusWithInvoice(ctx, p, target, opts)
	}
	return e.applyStatusPlain(ctx, p, target, opts)
}

func (e Engine) applyStatusPlain(ctx context.Context, p domain.Project, target domain.ProjectStatus, opts ApplyStatusOptions) (domain.Project, error) {
	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.AdvanceProjectStatus(ctx, tx, p.ID, p.Status, target, now); err != nil {
		_ = tx.Rollback()
		return domain.Project{}, e.explainStaleProject(ctx, p.ID, err)
	}
	if err := e.appendStatusEvent(ctx, tx, p, target, opts); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, p.ID)
}

func (e Engine) applyStatusWithInvoice(ctx context.Context, p domain.Project, target domain.ProjectStatus, opts ApplyStatusOptions) (domain.Project, error) {
	// The project lock spans the external call and the commit so two
	// concurrent invoiced transitions cannot both reach the invoicing
	// service.
	unlock := e.locks.lock(p.ID)
	defer unlock()

	fresh, err := e.Repo.GetProject(ctx, p.ID)
	if err != nil {
		return domain.Project{}, err
	}
	if fresh.Status != p.Status || fresh.ReclamationOpen {
		return domain.Project{}, ConflictError{Reason: "project changed concurrently"}
	}
	if fresh.InvoiceNumber != nil {
		return e.applyStatusPlain(ctx, fresh, target, opts)
	}

	callCtx := ctx
	if e.Config != nil && e.Config.Invoicing.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(e.Config.Invoicing.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	inv, err := e.Invoices.CreateInvoice(callCtx, fresh)
	if err != nil {
		return domain.Project{}, ExternalServiceError{Service: "invoicing", Err: err}
	}

	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetProjectInvoice(ctx, tx, p.ID, fresh.Status, target, inv.Number, inv.URL, now); err != nil {
		_ = tx.Rollback()
		return domain.Project{}, e.explainStaleProject(ctx, p.ID, err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeInvoiceCreated, p.FirmID, "project", p.ID, opts.Actor.ID, events.EventPayload{
		"invoice_number": inv.Number,
		"invoice_url":    inv.URL,
	}); err != nil {
		return domain.Project{}, err
	}
	if err := e.appendStatusEvent(ctx, tx, fresh, target, opts); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, p.ID)
}

func (e Engine) appendStatusEvent(ctx context.Context, tx *sql.Tx, p domain.Project, target domain.ProjectStatus, opts ApplyStatusOptions) error {
	evtType := events.TypeProjectStatusChanged
	if opts.FastForward && !p.Schema.CanAdvance(p.Status, target) {
		evtType = events.TypeProjectFastForwarded
	}
	return e.Events.Append(ctx, tx, evtType, p.FirmID, "project", p.ID, opts.Actor.ID, events.EventPayload{
		"from": string(p.Status),
		"to":   string(target),
	})
}

// explainStaleProject turns a failed guarded update into the precise error:
// missing row, reclamation overlay, or a concurrent writer.
func (e Engine) explainStaleProject(ctx context.Context, projectID string, cause error) error {
	if cause != repo.ErrStale {
		return cause
	}
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if p.ReclamationOpen {
		return InvalidStateError{Entity: "project", State: string(p.Status), Reason: "open reclamation blocks status changes"}
	}
	return ConflictError{Reason: fmt.Sprintf("project status changed concurrently (now %s)", p.Status)}
}

// Suggestion is a date-driven hint that a project is ready for its next stage.
type Suggestion struct {
	From   domain.ProjectStatus `json:"from"`
	To     domain.ProjectStatus `json:"to"`
	Reason string               `json:"reason"`
}

// SuggestNextTransition inspects the project's dates against today and
// returns the transition that appears due, or nil when nothing applies. It
// never mutates the project.
func (e Engine) SuggestNextTransition(ctx context.Context, projectID string) (*Suggestion, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p.ReclamationOpen {
		return nil, nil
	}
	today := e.today()
	switch p.Status {
	case domain.StatusEquipmentWaiting:
		if p.EquipmentArrivedDate != nil && *p.EquipmentArrivedDate <= today {
			return &Suggestion{
				From:   p.Status,
				To:     domain.StatusEquipmentArrived,
				Reason: fmt.Sprintf("equipment arrival recorded on %s", *p.EquipmentArrivedDate),
			}, nil
		}
	case domain.StatusEquipmentArrived:
		if p.WorkStartDate != nil {
			return &Suggestion{
				From:   p.Status,
				To:     domain.StatusWorkScheduled,
				Reason: fmt.Sprintf("work start planned for %s", *p.WorkStartDate),
			}, nil
		}
	case domain.StatusWorkScheduled:
		if p.WorkStartDate != nil && *p.WorkStartDate <= today {
			return &Suggestion{
				From:   p.Status,
				To:     domain.StatusWorkInProgress,
				Reason: fmt.Sprintf("work start date %s reached", *p.WorkStartDate),
			}, nil
		}
	}
	return nil, nil
}

// ProjectDatesOptions carry partial date updates. Nil leaves a field alone,
// an empty string clears it.
type ProjectDatesOptions struct {
	ProjectID         string
	EquipmentExpected *string
	EquipmentArrived  *string
	WorkStart         *string
	WorkEnd           *string
	Actor             auth.Actor
}

func (e Engine) SetProjectDates(ctx context.Context, opts ProjectDatesOptions) (domain.Project, error) {
	if !opts.Actor.ManagesProjects() {
		return domain.Project{}, ForbiddenError{Operation: "project.dates"}
	}
	p, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Project{}, err
	}
	for _, d := range []struct {
		field string
		value *string
	}{
		{"equipment_expected_date", opts.EquipmentExpected},
		{"equipment_arrived_date", opts.EquipmentArrived},
		{"work_start_date", opts.WorkStart},
		{"work_end_date", opts.WorkEnd},
	} {
		if d.value == nil {
			continue
		}
		if err := validateDate(d.field, *d.value); err != nil {
			return domain.Project{}, err
		}
	}
	start := resolved(opts.WorkStart, p.WorkStartDate)
	end := resolved(opts.WorkEnd, p.WorkEndDate)
	if start != "" && end != "" && end < start {
		return domain.Project{}, ValidationError{Field: "work_end_date", Reason: "before work_start_date"}
	}

	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	dates := repo.ProjectDates{
		EquipmentExpected: opts.EquipmentExpected,
		EquipmentArrived:  opts.EquipmentArrived,
		WorkStart:         opts.WorkStart,
		WorkEnd:           opts.WorkEnd,
	}
	if err := e.Repo.UpdateProjectDates(ctx, tx, p.ID, dates, now); err != nil {
		return domain.Project{}, err
	}
	payload := events.EventPayload{}
	addDate(payload, "equipment_expected_date", opts.EquipmentExpected)
	addDate(payload, "equipment_arrived_date", opts.EquipmentArrived)
	addDate(payload, "work_start_date", opts.WorkStart)
	addDate(payload, "work_end_date", opts.WorkEnd)
	if err := e.Events.Append(ctx, tx, events.TypeProjectDatesUpdated, p.FirmID, "project", p.ID, opts.Actor.ID, payload); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, p.ID)
}

// AssignProjectCrew sets or clears the crew responsible for a project.
func (e Engine) AssignProjectCrew(ctx context.Context, projectID, crewID string, actor auth.Actor) (domain.Project, error) {
	if !actor.IsAdmin() {
		return domain.Project{}, ForbiddenError{Operation: "project.crew"}
	}
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if crewID != "" {
		crew, err := e.Repo.GetCrew(ctx, crewID)
		if err != nil {
			return domain.Project{}, err
		}
		if crew.FirmID != p.FirmID {
			return domain.Project{}, ValidationError{Field: "crew_id", Reason: "crew belongs to another firm"}
		}
	}
	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetProjectCrew(ctx, tx, p.ID, crewID, now); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, "project.crew.assigned", p.FirmID, "project", p.ID, actor.ID, events.EventPayload{
		"crew_id": crewID,
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, p.ID)
}

func validateDate(field, value string) error {
	if value == "" {
		return nil
	}
	if _, err := time.Parse("2006-01-02", value); err != nil {
		return ValidationError{Field: field, Reason: "must be YYYY-MM-DD"}
	}
	return nil
}

func resolved(update *string, current *string) string {
	if update != nil {
		return *update
	}
	if current != nil {
		return *current
	}
	return ""
}

func addDate(payload events.EventPayload, key string, value *string) {
	if value != nil {
		payload[key] = *value
	}
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
