package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/pmsync/internal/domain/audit"
	"github.com/ehr/pmsync/internal/domain/practice"
	"github.com/ehr/pmsync/internal/domain/records"
)

type routerFixture struct {
	router    *Router
	practices *practice.InMemoryRepository
	store     *records.InMemoryStore
	events    *audit.InMemoryWebhookEventRepository
	practice  *practice.Practice
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	f := &routerFixture{
		practices: practice.NewInMemoryRepository(),
		store:     records.NewInMemoryStore(),
		events:    audit.NewInMemoryWebhookEventRepository(),
	}
	f.practice = &practice.Practice{Name: "Bright Smiles", Subdomain: "bright-smiles", Status: practice.StatusError, Active: true}
	if err := f.practices.Create(context.Background(), f.practice); err != nil {
		t.Fatal(err)
	}
	f.router = NewRouter(f.practices, f.store, f.events, nil, zerolog.Nop())
	return f
}

func (f *routerFixture) patient(t *testing.T, foreignID string) *records.Patient {
	t.Helper()
	row, err := f.store.GetByForeignID(context.Background(), f.practice.ID, records.KindPatient, foreignID)
	if err != nil {
		t.Fatalf("patient %s: %v", foreignID, err)
	}
	var p records.Patient
	if err := row.Decode(&p); err != nil {
		t.Fatal(err)
	}
	return &p
}

func TestRouter_AppliesInlineData(t *testing.T) {
	f := newRouterFixture(t)
	res := f.router.Handle(context.Background(), Event{
		EventID:   "evt-1",
		EventType: "patient.updated",
		Subdomain: "bright-smiles",
		Data:      json.RawMessage(`{"id":42,"first_name":"Ann","last_name":"Lee"}`),
	})
	if res.Outcome != OutcomeProcessed || res.Kind != string(records.KindPatient) {
		t.Fatalf("unexpected result %+v", res)
	}
	if p := f.patient(t, "42"); p.FirstName != "Ann" {
		t.Errorf("expected Ann, got %q", p.FirstName)
	}
	e, _ := f.events.GetByID(context.Background(), res.EventLogID)
	if e.Status != audit.EventProcessed || e.PracticeID == nil || *e.PracticeID != f.practice.ID {
		t.Errorf("unexpected event log %+v", e)
	}
	p, _ := f.practices.GetByID(context.Background(), f.practice.ID)
	if p.Status != practice.StatusConnected {
		t.Errorf("expected practice connected, got %s", p.Status)
	}
}

func TestRouter_AppliesStringData(t *testing.T) {
	f := newRouterFixture(t)
	data, _ := json.Marshal(`{"id":"7","first_name":"Bo"}`)
	res := f.router.Handle(context.Background(), Event{EventType: "patient.created", Subdomain: "bright-smiles", Data: data})
	if res.Outcome != OutcomeProcessed {
		t.Fatalf("unexpected result %+v", res)
	}
	if p := f.patient(t, "7"); p.FirstName != "Bo" {
		t.Errorf("expected Bo, got %q", p.FirstName)
	}
}

func TestRouter_UnknownSubdomain(t *testing.T) {
	f := newRouterFixture(t)
	res := f.router.Handle(context.Background(), Event{
		EventID:   "evt-2",
		EventType: "patient.updated",
		Subdomain: "nobody",
		Data:      json.RawMessage(`{"id":1}`),
	})
	if res.Outcome != OutcomeFailed || res.Error != "unknown subdomain" {
		t.Fatalf("unexpected result %+v", res)
	}
	e, _ := f.events.GetByID(context.Background(), res.EventLogID)
	if e.Status != audit.EventFailed || e.Error == nil || *e.Error != "unknown subdomain" {
		t.Errorf("expected failed event log, got %+v", e)
	}
	if n, _ := f.store.Count(context.Background(), f.practice.ID, records.KindPatient); n != 0 {
		t.Errorf("expected nothing stored, got %d", n)
	}
}

func TestRouter_DuplicateEventIsNotReapplied(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	first := f.router.Handle(ctx, Event{EventID: "evt-3", EventType: "patient.updated", Subdomain: "bright-smiles",
		Data: json.RawMessage(`{"id":1,"first_name":"First"}`)})
	second := f.router.Handle(ctx, Event{EventID: "evt-3", EventType: "patient.updated", Subdomain: "bright-smiles",
		Data: json.RawMessage(`{"id":1,"first_name":"Second"}`)})

	if second.Outcome != OutcomeDuplicate || second.EventLogID != first.EventLogID {
		t.Fatalf("expected duplicate of %s, got %+v", first.EventLogID, second)
	}
	if p := f.patient(t, "1"); p.FirstName != "First" {
		t.Errorf("expected first payload to stand, got %q", p.FirstName)
	}
	if _, total, _ := f.events.List(ctx, audit.EventFilter{}, 10, 0); total != 1 {
		t.Errorf("expected a single event log row, got %d", total)
	}
}

func TestRouter_LongestPrefixWins(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	plan := f.router.Handle(ctx, Event{EventType: "insurance_plan.created", Subdomain: "bright-smiles", Data: json.RawMessage(`{"id":5,"name":"PPO"}`)})
	cov := f.router.Handle(ctx, Event{EventType: "insurance.updated", Subdomain: "bright-smiles", Data: json.RawMessage(`{"id":6,"patient_id":1}`)})
	if plan.Kind != string(records.KindInsurancePlan) {
		t.Errorf("expected insurance_plan, got %+v", plan)
	}
	if cov.Kind != string(records.KindInsuranceCoverage) {
		t.Errorf("expected insurance_coverage, got %+v", cov)
	}
}

func TestRouter_DeleteEvents(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	res := f.router.Handle(ctx, Event{EventType: "patient.deleted", Subdomain: "bright-smiles", Data: json.RawMessage(`{"id":9,"first_name":"Gone"}`)})
	if res.Outcome != OutcomeProcessed {
		t.Fatalf("unexpected result %+v", res)
	}
	if p := f.patient(t, "9"); !p.Deleted {
		t.Error("expected deleted flag from payload event")
	}

	f.store.Upsert(ctx, f.practice.ID, &records.Patient{Base: records.Base{ForeignID: "10"}, FirstName: "Kept"})
	res = f.router.Handle(ctx, Event{EventType: "patient.destroyed", Subdomain: "bright-smiles", ResourceID: "10"})
	if res.Outcome != OutcomeProcessed {
		t.Fatalf("unexpected result %+v", res)
	}
	p := f.patient(t, "10")
	if !p.Deleted || p.FirstName != "Kept" {
		t.Errorf("expected stored row flagged deleted with data kept, got %+v", p)
	}
}

func TestRouter_UnroutedTypeIsIgnored(t *testing.T) {
	f := newRouterFixture(t)
	res := f.router.Handle(context.Background(), Event{EventType: "clinic.updated", Subdomain: "bright-smiles", Data: json.RawMessage(`{"id":1}`)})
	if res.Outcome != OutcomeIgnored || !res.Success() {
		t.Fatalf("unexpected result %+v", res)
	}
	e, _ := f.events.GetByID(context.Background(), res.EventLogID)
	if e.Status != audit.EventProcessed {
		t.Errorf("expected processed log, got %s", e.Status)
	}
}

func TestRouter_FailureLeavesPracticeStatus(t *testing.T) {
	f := newRouterFixture(t)
	res := f.router.Handle(context.Background(), Event{EventType: "appointment.updated", Subdomain: "bright-smiles", Data: json.RawMessage(`{"id":3}`)})
	if res.Outcome != OutcomeFailed || !strings.Contains(res.Error, "start") {
		t.Fatalf("expected mapping failure, got %+v", res)
	}
	p, _ := f.practices.GetByID(context.Background(), f.practice.ID)
	if p.Status != practice.StatusError {
		t.Errorf("expected status untouched, got %s", p.Status)
	}
}

func TestRouter_NoDataFails(t *testing.T) {
	f := newRouterFixture(t)
	res := f.router.Handle(context.Background(), Event{EventType: "patient.updated", Subdomain: "bright-smiles"})
	if res.Outcome != OutcomeFailed || res.Error != ErrNoData.Error() {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRouter_Replay(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	res := f.router.Handle(ctx, Event{EventID: "evt-9", EventType: "patient.updated", Subdomain: "late-practice", Data: json.RawMessage(`{"id":11}`)})
	if res.Outcome != OutcomeFailed {
		t.Fatalf("expected failure, got %+v", res)
	}

	late := &practice.Practice{Name: "Late", Subdomain: "late-practice", Active: true}
	f.practices.Create(ctx, late)

	replayed, err := f.router.Replay(ctx, res.EventLogID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replayed.Outcome != OutcomeProcessed {
		t.Fatalf("expected processed replay, got %+v", replayed)
	}
	if _, err := f.store.GetByForeignID(ctx, late.ID, records.KindPatient, "11"); err != nil {
		t.Errorf("expected patient stored for late practice: %v", err)
	}
	if _, err := f.router.Replay(ctx, res.EventLogID); !errors.Is(err, ErrNotReplayable) {
		t.Errorf("expected ErrNotReplayable, got %v", err)
	}
	if _, err := f.router.Replay(ctx, uuid.New()); !errors.Is(err, audit.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRouter_RedeliveredFailedEventIsRetried(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	ev := Event{EventID: "evt-10", EventType: "patient.updated", Subdomain: "bright-smiles", Data: json.RawMessage(`{"first_name":"x"}`)}
	first := f.router.Handle(ctx, ev)
	if first.Outcome != OutcomeFailed {
		t.Fatalf("expected failure, got %+v", first)
	}
	ev.Data = json.RawMessage(`{"id":12,"first_name":"x"}`)
	second := f.router.Handle(ctx, ev)
	// the logged payload is reprocessed, so the redelivery fails the same way
	if second.EventLogID != first.EventLogID || second.Outcome != OutcomeFailed {
		t.Errorf("expected same log row retried, got %+v", second)
	}
}
