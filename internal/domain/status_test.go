package domain_test

import (
	"testing"

	"helioflow/internal/domain"
)

func TestStandardChain(t *testing.T) {
	chain := domain.SchemaStandard.Chain()
	if chain[0] != domain.StatusPlanning || chain[len(chain)-1] != domain.StatusPaid {
		t.Fatalf("unexpected chain bounds: %v", chain)
	}
	// Next walks the whole chain in order.
	cur := domain.StatusPlanning
	for i := 1; i < len(chain); i++ {
		next := domain.SchemaStandard.Next(cur)
		if next != chain[i] {
			t.Fatalf("next after %s = %s, want %s", cur, next, chain[i])
		}
		cur = next
	}
	if domain.SchemaStandard.Next(domain.StatusPaid) != "" {
		t.Fatalf("paid should be terminal")
	}
}

func TestCanAdvanceAndIsForward(t *testing.T) {
	s := domain.SchemaStandard
	if !s.CanAdvance(domain.StatusPlanning, domain.StatusEquipmentWaiting) {
		t.Fatalf("planning -> equipment_waiting should advance")
	}
	if s.CanAdvance(domain.StatusPlanning, domain.StatusEquipmentArrived) {
		t.Fatalf("skipping a stage must not advance")
	}
	if s.CanAdvance(domain.StatusInvoiced, domain.StatusWorkCompleted) {
		t.Fatalf("backward must not advance")
	}
	if !s.IsForward(domain.StatusPlanning, domain.StatusPaid) {
		t.Fatalf("planning -> paid is forward")
	}
	if s.IsForward(domain.StatusPaid, domain.StatusPlanning) {
		t.Fatalf("paid -> planning is not forward")
	}
	if s.IsForward(domain.StatusPlanning, domain.StatusPlanning) {
		t.Fatalf("same status is not forward")
	}
}

func TestSchemaMembership(t *testing.T) {
	if _, err := domain.ParseProjectStatus(domain.SchemaStandard, "done"); err == nil {
		t.Fatalf("done does not belong to the standard schema")
	}
	if _, err := domain.ParseProjectStatus(domain.SchemaLegacy, "work_completed"); err == nil {
		t.Fatalf("work_completed does not belong to the legacy schema")
	}
	if _, err := domain.ParseProjectStatus(domain.SchemaLegacy, "done"); err != nil {
		t.Fatalf("done belongs to the legacy schema: %v", err)
	}
	if domain.SchemaStandard.Index(domain.StatusDone) != -1 {
		t.Fatalf("done has no index in the standard schema")
	}
}

func TestInvoicedBand(t *testing.T) {
	s := domain.SchemaStandard
	for _, st := range []domain.ProjectStatus{domain.StatusInvoiced, domain.StatusSendInvoice, domain.StatusInvoiceSent, domain.StatusPaid} {
		if !s.Invoiced(st) {
			t.Fatalf("%s should be in the invoiced band", st)
		}
	}
	for _, st := range []domain.ProjectStatus{domain.StatusPlanning, domain.StatusWorkCompleted} {
		if s.Invoiced(st) {
			t.Fatalf("%s should not be in the invoiced band", st)
		}
	}
	if !domain.SchemaLegacy.Invoiced(domain.StatusPaid) {
		t.Fatalf("legacy paid is in the invoiced band")
	}
}

func TestParseStatusSchema(t *testing.T) {
	if s, err := domain.ParseStatusSchema(""); err != nil || s != domain.SchemaStandard {
		t.Fatalf("empty schema defaults to standard, got %s %v", s, err)
	}
	if _, err := domain.ParseStatusSchema("custom"); err == nil {
		t.Fatalf("unknown schema must be rejected")
	}
}

func TestReclamationTransitions(t *testing.T) {
	cases := []struct {
		from, to domain.ReclamationStatus
		ok       bool
	}{
		{domain.ReclamationPending, domain.ReclamationAccepted, true},
		{domain.ReclamationPending, domain.ReclamationRejected, true},
		{domain.ReclamationPending, domain.ReclamationCompleted, false},
		{domain.ReclamationAccepted, domain.ReclamationInProgress, true},
		{domain.ReclamationAccepted, domain.ReclamationCompleted, true},
		{domain.ReclamationRejected, domain.ReclamationAccepted, true},
		{domain.ReclamationRejected, domain.ReclamationCompleted, false},
		{domain.ReclamationInProgress, domain.ReclamationCompleted, true},
		{domain.ReclamationCompleted, domain.ReclamationAccepted, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.ok {
			t.Errorf("%s -> %s = %v, want %v", c.from, c.to, got, c.ok)
		}
	}
	if !domain.ReclamationCompleted.Terminal() {
		t.Fatalf("completed is terminal")
	}
	if !domain.ReclamationRejected.Active() {
		t.Fatalf("rejected complaints still block the project")
	}
	if domain.ReclamationCompleted.Active() {
		t.Fatalf("completed complaints no longer block the project")
	}
}
