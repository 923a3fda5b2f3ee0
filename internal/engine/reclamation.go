package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"helioflow/internal/domain"
	"helioflow/internal/engine/auth"
	"helioflow/internal/events"
	"helioflow/internal/repo"
	"helioflow/internal/services/calendar"
)

const minReclamationText = 10

// ReclamationCreateOptions are parameters for opening a reclamation.
type ReclamationCreateOptions struct {
	ProjectID   string
	Description string
	Deadline    string
	CrewID      string
	Actor       auth.Actor
}

// CreateReclamation opens a complaint on a project and assigns it to a crew.
// While it is open the project's lifecycle is frozen.
func (e Engine) CreateReclamation(ctx context.Context, opts ReclamationCreateOptions) (domain.Reclamation, error) {
	if !opts.Actor.IsAdmin() {
		return domain.Reclamation{}, ForbiddenError{Operation: "reclamation.create"}
	}
	if utf8.RuneCountInString(strings.TrimSpace(opts.Description)) < minReclamationText {
		return domain.Reclamation{}, ValidationError{Field: "description", Reason: fmt.Sprintf("at least %d characters", minReclamationText)}
	}
	if err := validateDate("deadline", opts.Deadline); err != nil {
		return domain.Reclamation{}, err
	}
	if opts.Deadline == "" {
		return domain.Reclamation{}, ValidationError{Field: "deadline", Reason: "required"}
	}
	if opts.Deadline < e.today() {
		return domain.Reclamation{}, ValidationError{Field: "deadline", Reason: "must not be in the past"}
	}
	p, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Reclamation{}, err
	}
	crew, err := e.Repo.GetCrew(ctx, opts.CrewID)
	if err != nil {
		return domain.Reclamation{}, err
	}
	if crew.FirmID != p.FirmID {
		return domain.Reclamation{}, ValidationError{Field: "crew_id", Reason: "crew belongs to another firm"}
	}

	now := e.nowString()
	rec := domain.Reclamation{
		ID:             uuid.NewString(),
		ProjectID:      p.ID,
		Description:    strings.TrimSpace(opts.Description),
		Deadline:       opts.Deadline,
		Status:         domain.ReclamationPending,
		OriginalCrewID: crew.ID,
		CurrentCrewID:  crew.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Reclamation{}, err
	}
	defer tx.Rollback()
	// The reclamation_open guard in this update is what enforces one
	// active reclamation per project under concurrent creates.
	if err := e.Repo.SetReclamationOpen(ctx, tx, p.ID, true, now); err != nil {
		if err == repo.ErrStale {
			return domain.Reclamation{}, ConflictError{Reason: "project already has an active reclamation"}
		}
		return domain.Reclamation{}, err
	}
	if err := e.Repo.InsertReclamation(ctx, tx, rec); err != nil {
		return domain.Reclamation{}, fmt.Errorf("insert reclamation: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeReclamationCreated, p.FirmID, "reclamation", rec.ID, opts.Actor.ID, events.EventPayload{
		"project_id": p.ID,
		"crew_id":    crew.ID,
		"deadline":   rec.Deadline,
	}); err != nil {
		return domain.Reclamation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Reclamation{}, err
	}
	return rec, nil
}

// AcceptReclamation confirms the assigned crew will handle the complaint and
// schedules a calendar entry for it. The calendar call is best effort.
func (e Engine) AcceptReclamation(ctx context.Context, id string, actor auth.Actor) (domain.Reclamation, error) {
	crewID, err := requireCrew(actor, "reclamation.accept")
	if err != nil {
		return domain.Reclamation{}, err
	}
	rec, p, err := e.reclamationWithProject(ctx, id)
	if err != nil {
		return domain.Reclamation{}, err
	}
	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Reclamation{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.AcceptReclamation(ctx, tx, id, crewID, now); err != nil {
		_ = tx.Rollback()
		return domain.Reclamation{}, e.explainStaleReclamation(ctx, id, crewID, string(domain.ReclamationPending), err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeReclamationAccepted, p.FirmID, "reclamation", rec.ID, actor.ID, events.EventPayload{
		"project_id": p.ID,
		"crew_id":    crewID,
	}); err != nil {
		return domain.Reclamation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Reclamation{}, err
	}
	e.scheduleReclamation(p, rec, crewID)
	return e.Repo.GetReclamation(ctx, id)
}

// RejectReclamation declines the complaint with a reason and moves it to the
// available pool for other crews.
func (e Engine) RejectReclamation(ctx context.Context, id, reason string, actor auth.Actor) (domain.Reclamation, error) {
	crewID, err := requireCrew(actor, "reclamation.reject")
	if err != nil {
		return domain.Reclamation{}, err
	}
	if utf8.RuneCountInString(strings.TrimSpace(reason)) < minReclamationText {
		return domain.Reclamation{}, ValidationError{Field: "reason", Reason: fmt.Sprintf("at least %d characters", minReclamationText)}
	}
	rec, p, err := e.reclamationWithProject(ctx, id)
	if err != nil {
		return domain.Reclamation{}, err
	}
	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Reclamation{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.RejectReclamation(ctx, tx, id, crewID, strings.TrimSpace(reason), now); err != nil {
		_ = tx.Rollback()
		return domain.Reclamation{}, e.explainStaleReclamation(ctx, id, crewID, string(domain.ReclamationPending), err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeReclamationRejected, p.FirmID, "reclamation", rec.ID, actor.ID, events.EventPayload{
		"project_id": p.ID,
		"crew_id":    crewID,
	}); err != nil {
		return domain.Reclamation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Reclamation{}, err
	}
	return e.Repo.GetReclamation(ctx, id)
}

// TakeReclamation claims a rejected complaint from the pool for the actor's
// crew. Under concurrent takes exactly one crew wins.
func (e Engine) TakeReclamation(ctx context.Context, id string, actor auth.Actor) (domain.Reclamation, error) {
	crewID, err := requireCrew(actor, "reclamation.take")
	if err != nil {
		return domain.Reclamation{}, err
	}
	rec, p, err := e.reclamationWithProject(ctx, id)
	if err != nil {
		return domain.Reclamation{}, err
	}
	crew, err := e.Repo.GetCrew(ctx, crewID)
	if err != nil {
		return domain.Reclamation{}, err
	}
	if crew.FirmID != p.FirmID {
		return domain.Reclamation{}, ValidationError{Field: "crew_id", Reason: "crew belongs to another firm"}
	}
	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Reclamation{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.TakeReclamation(ctx, tx, id, crewID, now); err != nil {
		_ = tx.Rollback()
		if err == repo.ErrStale {
			fresh, rerr := e.Repo.GetReclamation(ctx, id)
			if rerr != nil {
				return domain.Reclamation{}, rerr
			}
			if fresh.CurrentCrewID == crewID && fresh.Status == domain.ReclamationRejected {
				return domain.Reclamation{}, ConflictError{Reason: "a crew cannot take its own rejected reclamation"}
			}
			if fresh.Status != domain.ReclamationRejected {
				return domain.Reclamation{}, ConflictError{Reason: fmt.Sprintf("reclamation no longer available (now %s)", fresh.Status)}
			}
			return domain.Reclamation{}, ConflictError{Reason: "reclamation taken concurrently"}
		}
		return domain.Reclamation{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeReclamationTaken, p.FirmID, "reclamation", rec.ID, actor.ID, events.EventPayload{
		"project_id":    p.ID,
		"crew_id":       crewID,
		"previous_crew": rec.CurrentCrewID,
	}); err != nil {
		return domain.Reclamation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Reclamation{}, err
	}
	e.scheduleReclamation(p, rec, crewID)
	return e.Repo.GetReclamation(ctx, id)
}

// StartReclamation marks an accepted complaint as being worked on.
func (e Engine) StartReclamation(ctx context.Context, id string, actor auth.Actor) (domain.Reclamation, error) {
	crewID, err := requireCrew(actor, "reclamation.start")
	if err != nil {
		return domain.Reclamation{}, err
	}
	rec, p, err := e.reclamationWithProject(ctx, id)
	if err != nil {
		return domain.Reclamation{}, err
	}
	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Reclamation{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.StartReclamation(ctx, tx, id, crewID, now); err != nil {
		_ = tx.Rollback()
		return domain.Reclamation{}, e.explainStaleReclamation(ctx, id, crewID, string(domain.ReclamationAccepted), err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeReclamationStarted, p.FirmID, "reclamation", rec.ID, actor.ID, events.EventPayload{
		"project_id": p.ID,
		"crew_id":    crewID,
	}); err != nil {
		return domain.Reclamation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Reclamation{}, err
	}
	return e.Repo.GetReclamation(ctx, id)
}

// CompleteReclamation resolves the complaint and unfreezes the project's
// lifecycle in the same transaction.
func (e Engine) CompleteReclamation(ctx context.Context, id, notes string, actor auth.Actor) (domain.Reclamation, error) {
	crewID, err := requireCrew(actor, "reclamation.complete")
	if err != nil {
		return domain.Reclamation{}, err
	}
	rec, p, err := e.reclamationWithProject(ctx, id)
	if err != nil {
		return domain.Reclamation{}, err
	}
	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Reclamation{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.CompleteReclamation(ctx, tx, id, crewID, strings.TrimSpace(notes), now); err != nil {
		_ = tx.Rollback()
		return domain.Reclamation{}, e.explainStaleReclamation(ctx, id, crewID, "accepted or in_progress", err)
	}
	if err := e.Repo.SetReclamationOpen(ctx, tx, p.ID, false, now); err != nil {
		return domain.Reclamation{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeReclamationCompleted, p.FirmID, "reclamation", rec.ID, actor.ID, events.EventPayload{
		"project_id": p.ID,
		"crew_id":    crewID,
	}); err != nil {
		return domain.Reclamation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Reclamation{}, err
	}
	return e.Repo.GetReclamation(ctx, id)
}

// ReclamationListOptions select which complaints to return. Scope "assigned"
// lists the actor crew's own, "available" lists the rejected pool from other
// crews, empty lists everything the actor may see.
type ReclamationListOptions struct {
	Scope     string
	ProjectID string
	Status    string
	Actor     auth.Actor
}

func (e Engine) ListReclamations(ctx context.Context, opts ReclamationListOptions) ([]domain.Reclamation, error) {
	f := repo.ReclamationFilters{ProjectID: opts.ProjectID, Status: opts.Status}
	switch opts.Scope {
	case "assigned":
		crewID, err := requireCrew(opts.Actor, "reclamation.list")
		if err != nil {
			return nil, err
		}
		f.CrewID = crewID
	case "available":
		f.Available = true
		f.ExcludeCrewID = opts.Actor.Crew()
	case "", "all":
		if !opts.Actor.IsAdmin() {
			crewID, err := requireCrew(opts.Actor, "reclamation.list")
			if err != nil {
				return nil, err
			}
			f.CrewID = crewID
		}
	default:
		return nil, ValidationError{Field: "scope", Reason: "must be assigned, available or all"}
	}
	return e.Repo.ListReclamations(ctx, f)
}

func (e Engine) reclamationWithProject(ctx context.Context, id string) (domain.Reclamation, domain.Project, error) {
	rec, err := e.Repo.GetReclamation(ctx, id)
	if err != nil {
		return domain.Reclamation{}, domain.Project{}, err
	}
	p, err := e.Repo.GetProject(ctx, rec.ProjectID)
	if err != nil {
		return domain.Reclamation{}, domain.Project{}, err
	}
	return rec, p, nil
}

// explainStaleReclamation distinguishes ownership failures from state
// failures after a guarded update declined to write.
func (e Engine) explainStaleReclamation(ctx context.Context, id, crewID, want string, cause error) error {
	if cause != repo.ErrStale {
		return cause
	}
	rec, err := e.Repo.GetReclamation(ctx, id)
	if err != nil {
		return err
	}
	if rec.CurrentCrewID != crewID {
		return NotOwnerError{ReclamationID: id}
	}
	return InvalidStateError{Entity: "reclamation", State: string(rec.Status), Reason: fmt.Sprintf("expected %s", want)}
}

func requireCrew(actor auth.Actor, op string) (string, error) {
	crewID := actor.Crew()
	if crewID == "" {
		return "", ForbiddenError{Operation: op}
	}
	return crewID, nil
}

// scheduleReclamation pushes a calendar entry for the crew that now holds the
// complaint. Failures are logged and recorded but never surface to the caller.
func (e Engine) scheduleReclamation(p domain.Project, rec domain.Reclamation, crewID string) {
	cal := e.Calendar
	if cal == nil {
		return
	}
	if _, ok := cal.(calendar.Noop); ok {
		return
	}
	go func() {
		ctx := context.Background()
		entry := calendar.Entry{
			CrewID:    crewID,
			ProjectID: p.ID,
			Title:     "Reclamation: " + p.Name,
			Date:      rec.Deadline,
		}
		if err := cal.ScheduleEntry(ctx, entry); err != nil {
			log.Printf("calendar: schedule for reclamation %s failed: %v", rec.ID, err)
			e.recordCalendarFailure(ctx, p, rec, err)
		}
	}()
}

func (e Engine) recordCalendarFailure(ctx context.Context, p domain.Project, rec domain.Reclamation, cause error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, events.TypeCalendarScheduleFailed, p.FirmID, "reclamation", rec.ID, "system", events.EventPayload{
		"error": cause.Error(),
	}); err != nil {
		return
	}
	_ = tx.Commit()
}
