package engine_test

import (
	"errors"
	"strings"
	"testing"

	"helioflow/internal/domain"
	"helioflow/internal/engine"
)

func (env testEnv) createReclamation(t *testing.T, projectID, crewID string) domain.Reclamation {
	t.Helper()
	rec, err := env.Engine.CreateReclamation(env.Ctx, engine.ReclamationCreateOptions{
		ProjectID:   projectID,
		Description: "Inverter drops out under load",
		Deadline:    "2024-05-15",
		CrewID:      crewID,
		Actor:       env.Admin,
	})
	if err != nil {
		t.Fatalf("create reclamation: %v", err)
	}
	return rec
}

func TestCreateReclamationValidation(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Flat roof retrofit")

	_, err := env.Engine.CreateReclamation(env.Ctx, engine.ReclamationCreateOptions{
		ProjectID:   p.ID,
		Description: "Inverter drops out under load",
		Deadline:    "2024-05-15",
		CrewID:      env.Crew.ID,
		Actor:       leaderOf(env.Crew.ID),
	})
	var forbidden engine.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("leader create: expected ForbiddenError, got %v", err)
	}

	var v engine.ValidationError
	_, err = env.Engine.CreateReclamation(env.Ctx, engine.ReclamationCreateOptions{
		ProjectID:   p.ID,
		Description: "too short",
		Deadline:    "2024-05-15",
		CrewID:      env.Crew.ID,
		Actor:       env.Admin,
	})
	if !errors.As(err, &v) || v.Field != "description" {
		t.Fatalf("short description: expected validation error, got %v", err)
	}

	_, err = env.Engine.CreateReclamation(env.Ctx, engine.ReclamationCreateOptions{
		ProjectID:   p.ID,
		Description: "Inverter drops out under load",
		CrewID:      env.Crew.ID,
		Actor:       env.Admin,
	})
	if !errors.As(err, &v) || v.Field != "deadline" {
		t.Fatalf("missing deadline: expected validation error, got %v", err)
	}

	_, err = env.Engine.CreateReclamation(env.Ctx, engine.ReclamationCreateOptions{
		ProjectID:   p.ID,
		Description: "Inverter drops out under load",
		Deadline:    "2024-04-30",
		CrewID:      env.Crew.ID,
		Actor:       env.Admin,
	})
	if !errors.As(err, &v) || v.Field != "deadline" {
		t.Fatalf("past deadline: expected validation error, got %v", err)
	}

	other, err := env.Engine.InitFirm(env.Ctx, "firm-b", "Firm B", domain.SchemaStandard, "admin-1")
	if err != nil {
		t.Fatal(err)
	}
	foreign, err := env.Engine.CreateCrew(env.Ctx, other.ID, "Crew B", "admin-1")
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.CreateReclamation(env.Ctx, engine.ReclamationCreateOptions{
		ProjectID:   p.ID,
		Description: "Inverter drops out under load",
		Deadline:    "2024-05-15",
		CrewID:      foreign.ID,
		Actor:       env.Admin,
	})
	if !errors.As(err, &v) || v.Field != "crew_id" {
		t.Fatalf("foreign crew: expected validation error, got %v", err)
	}
}

func TestReclamationFreezesProject(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Terrace house")
	rec := env.createReclamation(t, p.ID, env.Crew.ID)

	fresh, err := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if err != nil || !fresh.ReclamationOpen {
		t.Fatalf("project should be frozen: %v %v", fresh.ReclamationOpen, err)
	}

	_, err = env.Engine.ApplyStatus(env.Ctx, engine.ApplyStatusOptions{
		ProjectID: p.ID,
		Target:    "equipment_waiting",
		Actor:     env.Admin,
	})
	var state engine.InvalidStateError
	if !errors.As(err, &state) {
		t.Fatalf("frozen project: expected InvalidStateError, got %v", err)
	}

	// suggestions are suppressed while frozen
	s, err := env.Engine.SuggestNextTransition(env.Ctx, p.ID)
	if err != nil || s != nil {
		t.Fatalf("frozen project: expected no suggestion, got %v %v", s, err)
	}

	leader := leaderOf(env.Crew.ID)
	if _, err := env.Engine.AcceptReclamation(env.Ctx, rec.ID, leader); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := env.Engine.CompleteReclamation(env.Ctx, rec.ID, "Replaced the inverter", leader); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// completing unfreezes the lifecycle
	p2 := env.advance(t, p.ID, domain.StatusEquipmentWaiting)
	if p2.ReclamationOpen {
		t.Fatalf("project still frozen after completion")
	}
}

func TestOneActiveReclamationPerProject(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Duplex roof")
	env.createReclamation(t, p.ID, env.Crew.ID)

	_, err := env.Engine.CreateReclamation(env.Ctx, engine.ReclamationCreateOptions{
		ProjectID:   p.ID,
		Description: "Panel glass cracked on row two",
		Deadline:    "2024-05-20",
		CrewID:      env.Crew.ID,
		Actor:       env.Admin,
	})
	var conflict engine.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("second reclamation: expected ConflictError, got %v", err)
	}
}

func TestReclamationAcceptStartComplete(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Bungalow")
	rec := env.createReclamation(t, p.ID, env.Crew.ID)
	leader := leaderOf(env.Crew.ID)

	// a different crew cannot act on it
	stranger, err := env.Engine.CreateCrew(env.Ctx, env.Firm.ID, "Crew Beta", "admin-1")
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.AcceptReclamation(env.Ctx, rec.ID, leaderOf(stranger.ID))
	var notOwner engine.NotOwnerError
	if !errors.As(err, &notOwner) {
		t.Fatalf("foreign accept: expected NotOwnerError, got %v", err)
	}

	// an actor without a crew cannot act at all
	_, err = env.Engine.AcceptReclamation(env.Ctx, rec.ID, env.Admin)
	var forbidden engine.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("crewless accept: expected ForbiddenError, got %v", err)
	}

	rec, err = env.Engine.AcceptReclamation(env.Ctx, rec.ID, leader)
	if err != nil || rec.Status != domain.ReclamationAccepted {
		t.Fatalf("accept: %s %v", rec.Status, err)
	}

	// accepting twice fails on state, not ownership
	_, err = env.Engine.AcceptReclamation(env.Ctx, rec.ID, leader)
	var state engine.InvalidStateError
	if !errors.As(err, &state) {
		t.Fatalf("double accept: expected InvalidStateError, got %v", err)
	}

	rec, err = env.Engine.StartReclamation(env.Ctx, rec.ID, leader)
	if err != nil || rec.Status != domain.ReclamationInProgress {
		t.Fatalf("start: %s %v", rec.Status, err)
	}
	rec, err = env.Engine.CompleteReclamation(env.Ctx, rec.ID, "Re-torqued all clamps", leader)
	if err != nil || rec.Status != domain.ReclamationCompleted {
		t.Fatalf("complete: %s %v", rec.Status, err)
	}
	if rec.ResolutionNotes == nil || *rec.ResolutionNotes != "Re-torqued all clamps" {
		t.Fatalf("resolution notes not stored: %v", rec.ResolutionNotes)
	}

	// completed is terminal
	_, err = env.Engine.StartReclamation(env.Ctx, rec.ID, leader)
	if !errors.As(err, &state) {
		t.Fatalf("start after complete: expected InvalidStateError, got %v", err)
	}
}

func TestCompleteSkippingStart(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Small shed")
	rec := env.createReclamation(t, p.ID, env.Crew.ID)
	leader := leaderOf(env.Crew.ID)

	// completing a still-pending complaint names both states it could be in
	_, err := env.Engine.CompleteReclamation(env.Ctx, rec.ID, "too early", leader)
	var state engine.InvalidStateError
	if !errors.As(err, &state) {
		t.Fatalf("complete from pending: expected InvalidStateError, got %v", err)
	}
	if !strings.Contains(state.Reason, "accepted or in_progress") {
		t.Fatalf("complete from pending: reason %q must name the accepted or in_progress precondition", state.Reason)
	}

	if _, err := env.Engine.AcceptReclamation(env.Ctx, rec.ID, leader); err != nil {
		t.Fatal(err)
	}
	// accepted may complete directly without the in_progress stage
	rec, err = env.Engine.CompleteReclamation(env.Ctx, rec.ID, "Loose connector, fixed on site", leader)
	if err != nil || rec.Status != domain.ReclamationCompleted {
		t.Fatalf("complete from accepted: %s %v", rec.Status, err)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Allotment shed")
	rec := env.createReclamation(t, p.ID, env.Crew.ID)

	_, err := env.Engine.RejectReclamation(env.Ctx, rec.ID, "busy", leaderOf(env.Crew.ID))
	var v engine.ValidationError
	if !errors.As(err, &v) || v.Field != "reason" {
		t.Fatalf("short reason: expected validation error, got %v", err)
	}

	rec, err = env.Engine.RejectReclamation(env.Ctx, rec.ID, "Crew fully booked this month", leaderOf(env.Crew.ID))
	if err != nil || rec.Status != domain.ReclamationRejected {
		t.Fatalf("reject: %s %v", rec.Status, err)
	}
	if rec.RejectionReason == nil || *rec.RejectionReason != "Crew fully booked this month" {
		t.Fatalf("rejection reason not stored: %v", rec.RejectionReason)
	}

	// the project stays frozen while the complaint sits in the pool
	fresh, err := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if err != nil || !fresh.ReclamationOpen {
		t.Fatalf("rejected complaint must keep the project frozen")
	}
}

func TestRejectedPoolAndTake(t *testing.T) {
	env := newTestEnv(t)
	crewA := env.Crew
	crewB, err := env.Engine.CreateCrew(env.Ctx, env.Firm.ID, "Crew Beta", "admin-1")
	if err != nil {
		t.Fatal(err)
	}
	crewC, err := env.Engine.CreateCrew(env.Ctx, env.Firm.ID, "Crew Gamma", "admin-1")
	if err != nil {
		t.Fatal(err)
	}
	p := env.createProject(t, "Row houses")
	rec := env.createReclamation(t, p.ID, crewA.ID)
	if _, err := env.Engine.RejectReclamation(env.Ctx, rec.ID, "No capacity before the deadline", leaderOf(crewA.ID)); err != nil {
		t.Fatal(err)
	}

	// the pool excludes the rejecting crew
	pool, err := env.Engine.ListReclamations(env.Ctx, engine.ReclamationListOptions{Scope: "available", Actor: leaderOf(crewB.ID)})
	if err != nil || len(pool) != 1 || pool[0].ID != rec.ID {
		t.Fatalf("crew B pool: %d %v", len(pool), err)
	}
	pool, err = env.Engine.ListReclamations(env.Ctx, engine.ReclamationListOptions{Scope: "available", Actor: leaderOf(crewA.ID)})
	if err != nil || len(pool) != 0 {
		t.Fatalf("crew A must not see its own rejection in the pool: %d %v", len(pool), err)
	}

	// the rejecting crew cannot take its own complaint back via the pool
	_, err = env.Engine.TakeReclamation(env.Ctx, rec.ID, leaderOf(crewA.ID))
	var ownTake engine.ConflictError
	if !errors.As(err, &ownTake) {
		t.Fatalf("own take: expected ConflictError, got %v", err)
	}

	rec, err = env.Engine.TakeReclamation(env.Ctx, rec.ID, leaderOf(crewB.ID))
	if err != nil || rec.Status != domain.ReclamationAccepted {
		t.Fatalf("take: %s %v", rec.Status, err)
	}
	if rec.CurrentCrewID != crewB.ID || rec.OriginalCrewID != crewA.ID {
		t.Fatalf("crew bookkeeping wrong: current %s original %s", rec.CurrentCrewID, rec.OriginalCrewID)
	}
	if rec.RejectionReason != nil {
		t.Fatalf("taking should clear the rejection reason")
	}

	// a later taker loses cleanly
	_, err = env.Engine.TakeReclamation(env.Ctx, rec.ID, leaderOf(crewC.ID))
	var conflict engine.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("late take: expected ConflictError, got %v", err)
	}

	// the new crew finishes the job
	rec, err = env.Engine.CompleteReclamation(env.Ctx, rec.ID, "Rewired the string junction box", leaderOf(crewB.ID))
	if err != nil || rec.Status != domain.ReclamationCompleted {
		t.Fatalf("complete after take: %s %v", rec.Status, err)
	}
}

func TestListReclamationScopes(t *testing.T) {
	env := newTestEnv(t)
	crewA := env.Crew
	crewB, err := env.Engine.CreateCrew(env.Ctx, env.Firm.ID, "Crew Beta", "admin-1")
	if err != nil {
		t.Fatal(err)
	}
	p1 := env.createProject(t, "Site one")
	p2 := env.createProject(t, "Site two")
	r1 := env.createReclamation(t, p1.ID, crewA.ID)
	env.createReclamation(t, p2.ID, crewB.ID)

	assigned, err := env.Engine.ListReclamations(env.Ctx, engine.ReclamationListOptions{Scope: "assigned", Actor: leaderOf(crewA.ID)})
	if err != nil || len(assigned) != 1 || assigned[0].ID != r1.ID {
		t.Fatalf("assigned scope: %d %v", len(assigned), err)
	}

	all, err := env.Engine.ListReclamations(env.Ctx, engine.ReclamationListOptions{Actor: env.Admin})
	if err != nil || len(all) != 2 {
		t.Fatalf("admin sees all: %d %v", len(all), err)
	}

	// non-admins fall back to their own crew
	own, err := env.Engine.ListReclamations(env.Ctx, engine.ReclamationListOptions{Actor: workerOf(crewB.ID)})
	if err != nil || len(own) != 1 {
		t.Fatalf("worker default scope: %d %v", len(own), err)
	}

	_, err = env.Engine.ListReclamations(env.Ctx, engine.ReclamationListOptions{Scope: "everything", Actor: env.Admin})
	var v engine.ValidationError
	if !errors.As(err, &v) || v.Field != "scope" {
		t.Fatalf("bad scope: expected validation error, got %v", err)
	}
}
