package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"helioflow/internal/domain"
	"helioflow/internal/engine"
	"helioflow/internal/events"
	"helioflow/internal/services/invoicing"
)

func TestProjectChainWalk(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Roof install")
	if p.Status != domain.StatusPlanning {
		t.Fatalf("new project status = %s, want planning", p.Status)
	}

	chain := domain.SchemaStandard.Chain()
	for _, target := range chain[1:] {
		p = env.advance(t, p.ID, target)
		if p.Status != target {
			t.Fatalf("status = %s, want %s", p.Status, target)
		}
	}
	if p.InvoiceNumber == nil || !strings.HasPrefix(*p.InvoiceNumber, "INV-") {
		t.Fatalf("expected stub invoice number, got %v", p.InvoiceNumber)
	}
	if p.InvoiceURL == nil {
		t.Fatalf("expected invoice url")
	}
}

func TestInvalidTransitions(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Garage carport")

	var tr engine.InvalidTransitionError
	cases := []string{
		"equipment_arrived", // skips a stage
		"planning",          // same status
		"done",              // legacy schema only
		"paid",              // far jump without fast-forward
	}
	for _, target := range cases {
		_, err := env.Engine.ApplyStatus(env.Ctx, engine.ApplyStatusOptions{
			ProjectID: p.ID,
			Target:    target,
			Actor:     env.Admin,
		})
		if !errors.As(err, &tr) {
			t.Fatalf("target %s: expected InvalidTransitionError, got %v", target, err)
		}
	}

	// backward from a later stage
	p = env.advance(t, p.ID, domain.StatusEquipmentWaiting)
	_, err := env.Engine.ApplyStatus(env.Ctx, engine.ApplyStatusOptions{
		ProjectID: p.ID,
		Target:    "planning",
		Actor:     env.Admin,
	})
	if !errors.As(err, &tr) {
		t.Fatalf("backward move: expected InvalidTransitionError, got %v", err)
	}
}

func TestWorkerCannotAdvance(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Field array")
	_, err := env.Engine.ApplyStatus(env.Ctx, engine.ApplyStatusOptions{
		ProjectID: p.ID,
		Target:    "equipment_waiting",
		Actor:     workerOf(env.Crew.ID),
	})
	var forbidden engine.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
	fresh, err := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if err != nil || fresh.Status != domain.StatusPlanning {
		t.Fatalf("status must not move: %s %v", fresh.Status, err)
	}
}

func TestFastForward(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Warehouse roof")

	// only admins may jump
	_, err := env.Engine.ApplyStatus(env.Ctx, engine.ApplyStatusOptions{
		ProjectID:   p.ID,
		Target:      "work_completed",
		FastForward: true,
		Actor:       leaderOf(env.Crew.ID),
	})
	var forbidden engine.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("leader fast-forward: expected ForbiddenError, got %v", err)
	}

	p, err = env.Engine.ApplyStatus(env.Ctx, engine.ApplyStatusOptions{
		ProjectID:   p.ID,
		Target:      "work_completed",
		FastForward: true,
		Actor:       env.Admin,
	})
	if err != nil || p.Status != domain.StatusWorkCompleted {
		t.Fatalf("admin fast-forward: %s %v", p.Status, err)
	}

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, env.Firm.ID, events.TypeProjectFastForwarded, "project", p.ID)
	if err != nil || len(evts) != 1 {
		t.Fatalf("expected one fast-forward event, got %d %v", len(evts), err)
	}

	// fast-forward never goes backward
	_, err = env.Engine.ApplyStatus(env.Ctx, engine.ApplyStatusOptions{
		ProjectID:   p.ID,
		Target:      "planning",
		FastForward: true,
		Actor:       env.Admin,
	})
	var tr engine.InvalidTransitionError
	if !errors.As(err, &tr) {
		t.Fatalf("backward fast-forward: expected InvalidTransitionError, got %v", err)
	}
}

func TestFastForwardToPaidCreatesInvoice(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Barn south face")
	p, err := env.Engine.ApplyStatus(env.Ctx, engine.ApplyStatusOptions{
		ProjectID:   p.ID,
		Target:      "paid",
		FastForward: true,
		Actor:       env.Admin,
	})
	if err != nil || p.Status != domain.StatusPaid {
		t.Fatalf("fast-forward to paid: %s %v", p.Status, err)
	}
	if p.InvoiceNumber == nil {
		t.Fatalf("crossing the invoiced band must create the invoice")
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, env.Firm.ID, events.TypeInvoiceCreated, "project", p.ID)
	if err != nil || len(evts) != 1 {
		t.Fatalf("expected one invoice event, got %d %v", len(evts), err)
	}
}

type failingInvoicer struct{}

func (failingInvoicer) CreateInvoice(context.Context, domain.Project) (invoicing.Invoice, error) {
	return invoicing.Invoice{}, errors.New("backend down")
}

func TestInvoiceFailureLeavesProjectUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Invoices = failingInvoicer{}
	p := env.createProject(t, "Carport east")
	for _, target := range []domain.ProjectStatus{
		domain.StatusEquipmentWaiting, domain.StatusEquipmentArrived,
		domain.StatusWorkScheduled, domain.StatusWorkInProgress, domain.StatusWorkCompleted,
	} {
		p = env.advance(t, p.ID, target)
	}
	_, err := env.Engine.ApplyStatus(env.Ctx, engine.ApplyStatusOptions{
		ProjectID: p.ID,
		Target:    "invoiced",
		Actor:     env.Admin,
	})
	var ext engine.ExternalServiceError
	if !errors.As(err, &ext) || ext.Service != "invoicing" {
		t.Fatalf("expected ExternalServiceError from invoicing, got %v", err)
	}
	fresh, err := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Status != domain.StatusWorkCompleted || fresh.InvoiceNumber != nil {
		t.Fatalf("failed invoicing must leave the project untouched: %s %v", fresh.Status, fresh.InvoiceNumber)
	}

	// once the backend recovers the same transition goes through
	env.Engine.Invoices = &invoicing.Stub{}
	p = env.advance(t, p.ID, domain.StatusInvoiced)
	if p.InvoiceNumber == nil {
		t.Fatalf("expected invoice after retry")
	}
}

func TestInvoiceCreatedOnce(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Hillside array")
	for _, target := range domain.SchemaStandard.Chain()[1:7] {
		p = env.advance(t, p.ID, target)
	}
	number := *p.InvoiceNumber

	// re-requesting invoiced is a no-op success
	p, err := env.Engine.ApplyStatus(env.Ctx, engine.ApplyStatusOptions{
		ProjectID: p.ID,
		Target:    "invoiced",
		Actor:     env.Admin,
	})
	if err != nil || p.Status != domain.StatusInvoiced || *p.InvoiceNumber != number {
		t.Fatalf("repeat invoiced: %s %v %v", p.Status, p.InvoiceNumber, err)
	}

	p = env.advance(t, p.ID, domain.StatusSendInvoice)
	p = env.advance(t, p.ID, domain.StatusInvoiceSent)
	p = env.advance(t, p.ID, domain.StatusPaid)
	if *p.InvoiceNumber != number {
		t.Fatalf("invoice number changed: %s -> %s", number, *p.InvoiceNumber)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, env.Firm.ID, events.TypeInvoiceCreated, "project", p.ID)
	if err != nil || len(evts) != 1 {
		t.Fatalf("expected exactly one invoice event, got %d %v", len(evts), err)
	}
}

func TestSuggestNextTransition(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Two-family house")

	// nothing due at planning
	s, err := env.Engine.SuggestNextTransition(env.Ctx, p.ID)
	if err != nil || s != nil {
		t.Fatalf("planning: expected no suggestion, got %v %v", s, err)
	}

	p = env.advance(t, p.ID, domain.StatusEquipmentWaiting)
	s, err = env.Engine.SuggestNextTransition(env.Ctx, p.ID)
	if err != nil || s != nil {
		t.Fatalf("waiting without arrival date: expected no suggestion, got %v %v", s, err)
	}

	arrived := "2024-04-30"
	if _, err := env.Engine.SetProjectDates(env.Ctx, engine.ProjectDatesOptions{
		ProjectID:        p.ID,
		EquipmentArrived: &arrived,
		Actor:            env.Admin,
	}); err != nil {
		t.Fatalf("set dates: %v", err)
	}
	s, err = env.Engine.SuggestNextTransition(env.Ctx, p.ID)
	if err != nil || s == nil || s.To != domain.StatusEquipmentArrived {
		t.Fatalf("expected equipment_arrived suggestion, got %v %v", s, err)
	}

	// a future arrival date suggests nothing
	future := "2024-05-02"
	if _, err := env.Engine.SetProjectDates(env.Ctx, engine.ProjectDatesOptions{
		ProjectID:        p.ID,
		EquipmentArrived: &future,
		Actor:            env.Admin,
	}); err != nil {
		t.Fatal(err)
	}
	s, err = env.Engine.SuggestNextTransition(env.Ctx, p.ID)
	if err != nil || s != nil {
		t.Fatalf("future arrival: expected no suggestion, got %v %v", s, err)
	}

	p = env.advance(t, p.ID, domain.StatusEquipmentArrived)
	start := "2024-05-01"
	if _, err := env.Engine.SetProjectDates(env.Ctx, engine.ProjectDatesOptions{
		ProjectID: p.ID,
		WorkStart: &start,
		Actor:     env.Admin,
	}); err != nil {
		t.Fatal(err)
	}
	s, err = env.Engine.SuggestNextTransition(env.Ctx, p.ID)
	if err != nil || s == nil || s.To != domain.StatusWorkScheduled {
		t.Fatalf("expected work_scheduled suggestion, got %v %v", s, err)
	}

	p = env.advance(t, p.ID, domain.StatusWorkScheduled)
	s, err = env.Engine.SuggestNextTransition(env.Ctx, p.ID)
	if err != nil || s == nil || s.To != domain.StatusWorkInProgress {
		t.Fatalf("expected work_in_progress suggestion, got %v %v", s, err)
	}
}

func TestSetProjectDatesValidation(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Schoolyard canopy")

	bad := "01.05.2024"
	_, err := env.Engine.SetProjectDates(env.Ctx, engine.ProjectDatesOptions{
		ProjectID: p.ID,
		WorkStart: &bad,
		Actor:     env.Admin,
	})
	var v engine.ValidationError
	if !errors.As(err, &v) || v.Field != "work_start_date" {
		t.Fatalf("expected validation error on work_start_date, got %v", err)
	}

	start, end := "2024-06-10", "2024-06-01"
	_, err = env.Engine.SetProjectDates(env.Ctx, engine.ProjectDatesOptions{
		ProjectID: p.ID,
		WorkStart: &start,
		WorkEnd:   &end,
		Actor:     env.Admin,
	})
	if !errors.As(err, &v) || v.Field != "work_end_date" {
		t.Fatalf("expected validation error on work_end_date, got %v", err)
	}

	// partial update keeps the untouched field, empty string clears
	goodEnd := "2024-06-20"
	p2, err := env.Engine.SetProjectDates(env.Ctx, engine.ProjectDatesOptions{
		ProjectID: p.ID,
		WorkStart: &start,
		WorkEnd:   &goodEnd,
		Actor:     env.Admin,
	})
	if err != nil {
		t.Fatal(err)
	}
	if p2.WorkStartDate == nil || *p2.WorkStartDate != start {
		t.Fatalf("work start not stored: %v", p2.WorkStartDate)
	}
	none := ""
	p2, err = env.Engine.SetProjectDates(env.Ctx, engine.ProjectDatesOptions{
		ProjectID: p.ID,
		WorkEnd:   &none,
		Actor:     env.Admin,
	})
	if err != nil {
		t.Fatal(err)
	}
	if p2.WorkEndDate != nil {
		t.Fatalf("work end should be cleared, got %v", *p2.WorkEndDate)
	}
	if p2.WorkStartDate == nil || *p2.WorkStartDate != start {
		t.Fatalf("partial update must not touch work start")
	}
}

func TestLegacySchemaWalk(t *testing.T) {
	env := newTestEnv(t)
	firm, err := env.Engine.InitFirm(env.Ctx, "firm-legacy", "Legacy Solar", domain.SchemaLegacy, "admin-1")
	if err != nil {
		t.Fatalf("init legacy firm: %v", err)
	}
	cfg, err := env.Engine.Repo.GetFirmConfig(env.Ctx, firm.ID)
	if err != nil {
		t.Fatalf("firm config: %v", err)
	}
	if cfg.Firm.StatusSchema != string(domain.SchemaLegacy) {
		t.Fatalf("firm config schema = %q", cfg.Firm.StatusSchema)
	}
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		FirmID: firm.ID,
		Name:   "Old-style job",
		Actor:  env.Admin,
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.Schema != domain.SchemaLegacy {
		t.Fatalf("project schema = %s, want legacy", p.Schema)
	}
	for _, target := range domain.SchemaLegacy.Chain()[1:] {
		p = env.advance(t, p.ID, target)
	}
	if p.Status != domain.StatusPaid || p.InvoiceNumber == nil {
		t.Fatalf("legacy walk ended at %s, invoice %v", p.Status, p.InvoiceNumber)
	}

	// standard-only stages are rejected on a legacy project
	p2, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{FirmID: firm.ID, Name: "Second job", Actor: env.Admin})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.ApplyStatus(env.Ctx, engine.ApplyStatusOptions{
		ProjectID: p2.ID,
		Target:    "work_completed",
		Actor:     env.Admin,
	})
	var tr engine.InvalidTransitionError
	if !errors.As(err, &tr) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestCreateProjectValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		FirmID: env.Firm.ID,
		Name:   "No permission",
		Actor:  workerOf(env.Crew.ID),
	})
	var forbidden engine.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("worker create: expected ForbiddenError, got %v", err)
	}

	_, err = env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		FirmID: env.Firm.ID,
		Actor:  env.Admin,
	})
	var v engine.ValidationError
	if !errors.As(err, &v) || v.Field != "name" {
		t.Fatalf("missing name: expected validation error, got %v", err)
	}

	_, err = env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		FirmID:        env.Firm.ID,
		Name:          "Bad date",
		WorkStartDate: "next tuesday",
		Actor:         env.Admin,
	})
	if !errors.As(err, &v) || v.Field != "work_start_date" {
		t.Fatalf("bad date: expected validation error, got %v", err)
	}
}

func TestAssignProjectCrew(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Crew shuffle")

	_, err := env.Engine.AssignProjectCrew(env.Ctx, p.ID, env.Crew.ID, leaderOf(env.Crew.ID))
	var forbidden engine.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("leader assign: expected ForbiddenError, got %v", err)
	}

	p, err = env.Engine.AssignProjectCrew(env.Ctx, p.ID, env.Crew.ID, env.Admin)
	if err != nil || p.CrewID == nil || *p.CrewID != env.Crew.ID {
		t.Fatalf("assign crew: %v %v", p.CrewID, err)
	}

	// a crew from a different firm is rejected
	other, err := env.Engine.InitFirm(env.Ctx, "firm-other", "Other Solar", domain.SchemaStandard, "admin-1")
	if err != nil {
		t.Fatal(err)
	}
	foreign, err := env.Engine.CreateCrew(env.Ctx, other.ID, "Crew Foreign", "admin-1")
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.AssignProjectCrew(env.Ctx, p.ID, foreign.ID, env.Admin)
	var v engine.ValidationError
	if !errors.As(err, &v) || v.Field != "crew_id" {
		t.Fatalf("foreign crew: expected validation error, got %v", err)
	}

	// clearing the crew
	p, err = env.Engine.AssignProjectCrew(env.Ctx, p.ID, "", env.Admin)
	if err != nil || p.CrewID != nil {
		t.Fatalf("clear crew: %v %v", p.CrewID, err)
	}
}
