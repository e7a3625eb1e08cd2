package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/pmsync/internal/domain/audit"
	"github.com/ehr/pmsync/internal/domain/practice"
	"github.com/ehr/pmsync/internal/domain/records"
	"github.com/ehr/pmsync/internal/platform/runlock"
	"github.com/ehr/pmsync/internal/upstream"
	"github.com/ehr/pmsync/internal/upstream/upstreamtest"
)

type fixture struct {
	srv       *upstreamtest.Server
	practices *practice.InMemoryRepository
	store     *records.InMemoryStore
	jobs      *audit.InMemoryJobRepository
	orch      *Orchestrator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		srv:       upstreamtest.New(t),
		practices: practice.NewInMemoryRepository(),
		store:     records.NewInMemoryStore(),
		jobs:      audit.NewInMemoryJobRepository(),
	}
	f.orch = New(f.practices, f.store, f.jobs, f.srv.Factory(), zerolog.Nop(), Config{PageSize: 2}, opts...)
	return f
}

func (f *fixture) addPractice(t *testing.T, subdomain string) *practice.Practice {
	t.Helper()
	p := upstreamtest.Practice(subdomain)
	if err := f.practices.Create(context.Background(), p); err != nil {
		t.Fatalf("create practice: %v", err)
	}
	return p
}

func patients(ids ...int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf(`{"id":%d,"first_name":"P%d","last_name":"Test"}`, id, id)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func TestFullSync_WalksEveryPage(t *testing.T) {
	f := newFixture(t)
	p := f.addPractice(t, "alpha")
	f.srv.SetPages("/patients", patients(1, 2), patients(3, 4), patients(5))

	job, err := f.orch.FullSync(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != audit.JobCompleted {
		t.Errorf("expected completed, got %s (%v)", job.Status, job.Errors)
	}
	if got := len(f.srv.Requests("/patients")); got != 3 {
		t.Errorf("expected 3 page requests, got %d", got)
	}
	if n, _ := f.store.Count(context.Background(), p.ID, records.KindPatient); n != 5 {
		t.Errorf("expected 5 patients stored, got %d", n)
	}
	if job.RecordsProcessed != 5 {
		t.Errorf("expected 5 processed, got %d", job.RecordsProcessed)
	}
	reqs := f.srv.Requests("/patients")
	if reqs[0].Query.Get("end_cursor") != "" || reqs[1].Query.Get("end_cursor") != "c1" {
		t.Errorf("unexpected cursors: %q, %q", reqs[0].Query.Get("end_cursor"), reqs[1].Query.Get("end_cursor"))
	}
	if reqs[0].Query.Get("per_page") != "2" {
		t.Errorf("expected per_page=2, got %q", reqs[0].Query.Get("per_page"))
	}

	stored, _ := f.jobs.GetByID(context.Background(), job.ID)
	if stored.Status != audit.JobCompleted || stored.FinishedAt == nil {
		t.Errorf("expected finalized job, got %+v", stored)
	}
	got, _ := f.practices.GetByID(context.Background(), p.ID)
	if got.Status != practice.StatusConnected || got.LastSyncedAt == nil {
		t.Errorf("expected connected practice with last sync, got %+v", got)
	}
}

func TestFullSync_IsolatesBadRecords(t *testing.T) {
	f := newFixture(t, WithClock(func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }))
	p := f.addPractice(t, "alpha")
	var items []string
	for i := 1; i <= 10; i++ {
		if i == 5 {
			items = append(items, `{"first_name":"no id"}`)
			continue
		}
		items = append(items, fmt.Sprintf(`{"id":%d,"first_name":"Dr","last_name":"%d"}`, i, i))
	}
	f.srv.SetPages("/providers", "["+strings.Join(items, ",")+"]")

	job, err := f.orch.FullSync(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.RecordsProcessed != 9 || job.RecordsFailed != 1 {
		t.Errorf("expected 9 processed 1 failed, got %d/%d", job.RecordsProcessed, job.RecordsFailed)
	}
	if job.Status != audit.JobCompleted {
		t.Errorf("expected completed, got %s", job.Status)
	}
	if len(job.Errors) != 1 || !strings.Contains(job.Errors[0], "provider") {
		t.Errorf("expected one provider error, got %v", job.Errors)
	}
}

func TestFullSync_AppointmentWindow(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, WithClock(func() time.Time { return now }))
	p := f.addPractice(t, "alpha")
	f.srv.SetPages("/appointments",
		`[{"id":7,"patient_id":1,"start_time":"2024-03-02T10:00:00Z"},{"id":8,"patient_id":1}]`)

	job, err := f.orch.FullSync(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reqs := f.srv.Requests("/appointments")
	if len(reqs) != 1 {
		t.Fatalf("expected 1 appointment request, got %d", len(reqs))
	}
	if reqs[0].Query.Get("start") != "2024-03-01T09:00:00Z" || reqs[0].Query.Get("end") != "2024-03-31T09:00:00Z" {
		t.Errorf("unexpected window %s..%s", reqs[0].Query.Get("start"), reqs[0].Query.Get("end"))
	}
	if job.RecordsProcessed != 1 || job.RecordsFailed != 1 {
		t.Errorf("expected missing start to fail one record, got %d/%d", job.RecordsProcessed, job.RecordsFailed)
	}
}

func TestFullSync_CoverageFallsBackToPerPatient(t *testing.T) {
	f := newFixture(t)
	p := f.addPractice(t, "alpha")
	f.srv.SetPages("/patients", patients(1, 2))
	f.srv.SetPatientPages("/insurance_coverages", "1", `[{"id":100,"patient_id":1}]`)
	f.srv.SetPatientPages("/insurance_coverages", "2", `[{"id":200,"patient_id":2}]`)

	if _, err := f.orch.FullSync(context.Background(), p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n, _ := f.store.Count(context.Background(), p.ID, records.KindInsuranceCoverage); n != 2 {
		t.Errorf("expected 2 coverages, got %d", n)
	}
	// one bulk request plus one per patient
	if got := len(f.srv.Requests("/insurance_coverages")); got != 3 {
		t.Errorf("expected 3 coverage requests, got %d", got)
	}
}

func TestFullSync_KindFailureDoesNotStopRun(t *testing.T) {
	f := newFixture(t)
	p := f.addPractice(t, "alpha")
	f.srv.Fail("/operatories", http.StatusForbidden)
	f.srv.SetPages("/patients", patients(1))

	job, err := f.orch.FullSync(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != audit.JobCompleted {
		t.Errorf("expected completed, got %s", job.Status)
	}
	if n, _ := f.store.Count(context.Background(), p.ID, records.KindPatient); n != 1 {
		t.Errorf("expected patients after failed operatories, got %d", n)
	}
	found := false
	for _, e := range job.Errors {
		if strings.HasPrefix(e, "operatory") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected operatory error in %v", job.Errors)
	}
}

func TestFullSync_AllKindsFailedMarksJobFailed(t *testing.T) {
	f := newFixture(t)
	p := f.addPractice(t, "alpha")
	f.srv.FailAll(http.StatusBadRequest)

	job, err := f.orch.FullSync(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("expected no run error, got %v", err)
	}
	if job.Status != audit.JobFailed {
		t.Errorf("expected failed, got %s", job.Status)
	}
	got, _ := f.practices.GetByID(context.Background(), p.ID)
	if got.Status != practice.StatusError || got.LastError == nil {
		t.Errorf("expected error status, got %+v", got)
	}
}

func TestFullSync_AuthFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	p := f.addPractice(t, "alpha")
	f.srv.FailAuth(http.StatusUnauthorized)

	job, err := f.orch.FullSync(context.Background(), p.ID)
	if !errors.Is(err, upstream.ErrAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if job == nil || job.Status != audit.JobFailed {
		t.Fatalf("expected failed job, got %+v", job)
	}
	if len(f.srv.Requests("/providers")) != 0 {
		t.Error("expected no data requests after auth failure")
	}
	got, _ := f.practices.GetByID(context.Background(), p.ID)
	if got.Status != practice.StatusError {
		t.Errorf("expected error status, got %s", got.Status)
	}
}

func TestFullSync_UnknownPractice(t *testing.T) {
	f := newFixture(t)
	if _, err := f.orch.FullSync(context.Background(), uuid.New()); !errors.Is(err, practice.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFullSync_RejectsOverlappingRun(t *testing.T) {
	locker := runlock.NewLocalLocker()
	f := newFixture(t, WithLocker(locker))
	p := f.addPractice(t, "alpha")

	held, err := locker.Acquire(context.Background(), "sync:"+p.ID.String(), time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.Release(context.Background())

	if _, err := f.orch.FullSync(context.Background(), p.ID); !errors.Is(err, runlock.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if _, total, _ := f.jobs.ListByPractice(context.Background(), p.ID, 10, 0); total != 0 {
		t.Errorf("expected no job for a rejected run, got %d", total)
	}
	if got, _ := f.practices.GetByID(context.Background(), p.ID); got.Status == practice.StatusError {
		t.Error("a held lock must not flag the practice errored")
	}
}

func TestIncrementalSync_UsesCutoff(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, WithClock(func() time.Time { return t0.Add(time.Hour) }))
	p := f.addPractice(t, "alpha")
	if err := f.practices.MarkSynced(context.Background(), p.ID, t0); err != nil {
		t.Fatal(err)
	}
	f.srv.SetPages("/patients", `[
		{"id":1,"first_name":"A","updated_at":"2024-03-01T12:10:00Z"},
		{"id":2,"first_name":"B","updated_at":"2024-03-01T12:20:00Z"},
		{"id":3,"first_name":"C","updated_at":"2024-03-01T11:00:00Z"}
	]`)

	job, err := f.orch.IncrementalSyncPractice(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Type != audit.JobIncremental {
		t.Errorf("expected incremental job, got %s", job.Type)
	}
	reqs := f.srv.Requests("/patients")
	if len(reqs) != 1 || reqs[0].Query.Get("updated_since") != "2024-03-01T12:00:00Z" {
		t.Fatalf("expected updated_since at last sync, got %+v", reqs)
	}
	if job.RecordsProcessed != 2 || job.RecordsSkipped != 1 {
		t.Errorf("expected 2 processed 1 skipped, got %d/%d", job.RecordsProcessed, job.RecordsSkipped)
	}
	if _, err := f.store.GetByForeignID(context.Background(), p.ID, records.KindPatient, "3"); !errors.Is(err, records.ErrNotFound) {
		t.Errorf("expected stale patient to be skipped, got %v", err)
	}
	if len(f.srv.Requests("/providers")) != 0 {
		t.Error("incremental sync must not pull providers")
	}
	got, _ := f.practices.GetByID(context.Background(), p.ID)
	if !got.LastSyncedAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("expected last sync advanced to run start, got %v", got.LastSyncedAt)
	}
}

func TestIncrementalSync_DefaultLookback(t *testing.T) {
	now := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, WithClock(func() time.Time { return now }))
	p := f.addPractice(t, "alpha")
	f.srv.SetPages("/patients", `[
		{"id":1,"first_name":"Recent","updated_at":"2024-03-01T23:00:00Z"},
		{"id":2,"first_name":"Stale","updated_at":"2024-02-29T00:00:00Z"}
	]`)

	job, err := f.orch.IncrementalSyncPractice(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reqs := f.srv.Requests("/patients")
	if len(reqs) != 1 || reqs[0].Query.Get("updated_since") != "2024-03-01T00:00:00Z" {
		t.Fatalf("expected 24h lookback, got %+v", reqs)
	}
	if job.RecordsProcessed != 1 || job.RecordsSkipped != 1 {
		t.Errorf("expected 1 processed 1 skipped, got %d/%d", job.RecordsProcessed, job.RecordsSkipped)
	}
	if _, err := f.store.GetByForeignID(context.Background(), p.ID, records.KindPatient, "1"); err != nil {
		t.Errorf("expected patient updated 1h ago to be stored: %v", err)
	}
	if _, err := f.store.GetByForeignID(context.Background(), p.ID, records.KindPatient, "2"); !errors.Is(err, records.ErrNotFound) {
		t.Errorf("expected patient updated 48h ago to be skipped, got %v", err)
	}
}

type brokenLocker struct{}

func (brokenLocker) Acquire(context.Context, string, time.Duration) (runlock.Lock, error) {
	return nil, errors.New("redis: connection refused")
}

type failingJobs struct{ audit.JobRepository }

func (failingJobs) Create(context.Context, *audit.SyncJob) error {
	return errors.New("insert sync_job: connection reset")
}

func TestIncrementalSync_StartFailureMarksPracticeErrored(t *testing.T) {
	tests := []struct {
		name string
		orch func(f *fixture) *Orchestrator
		want string
	}{
		{
			name: "lock backend down",
			orch: func(f *fixture) *Orchestrator {
				return New(f.practices, f.store, f.jobs, f.srv.Factory(), zerolog.Nop(), Config{}, WithLocker(brokenLocker{}))
			},
			want: "connection refused",
		},
		{
			name: "job not created",
			orch: func(f *fixture) *Orchestrator {
				return New(f.practices, f.store, failingJobs{f.jobs}, f.srv.Factory(), zerolog.Nop(), Config{})
			},
			want: "connection reset",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p := f.addPractice(t, "alpha")

			sum := tt.orch(f).IncrementalSync(context.Background())
			if sum.Failed != 1 {
				t.Fatalf("expected 1 failed practice, got %+v", sum)
			}
			got, _ := f.practices.GetByID(context.Background(), p.ID)
			if got.Status != practice.StatusError {
				t.Errorf("expected status error, got %s", got.Status)
			}
			if got.LastError == nil || !strings.Contains(*got.LastError, tt.want) {
				t.Errorf("expected last error to mention %q, got %v", tt.want, got.LastError)
			}
		})
	}
}

func TestIncrementalSync_IsolatesTenants(t *testing.T) {
	good := upstreamtest.New(t)
	bad := upstreamtest.New(t)
	bad.FailAuth(http.StatusUnauthorized)
	good.SetPages("/patients", patients(1))

	practices := practice.NewInMemoryRepository()
	store := records.NewInMemoryStore()
	jobs := audit.NewInMemoryJobRepository()
	factory := upstream.NewFactory(good.Options(), good.URL, bad.URL)
	orch := New(practices, store, jobs, factory, zerolog.Nop(), Config{})

	ctx := context.Background()
	broken := upstreamtest.Practice("broken")
	broken.Environment = practice.EnvProduction
	practices.Create(ctx, broken)
	healthy := upstreamtest.Practice("healthy")
	practices.Create(ctx, healthy)
	unconfigured := upstreamtest.Practice("blank")
	unconfigured.APIKey = ""
	practices.Create(ctx, unconfigured)

	sum := orch.IncrementalSync(ctx)
	if sum.Practices != 3 || sum.Completed != 1 || sum.Failed != 1 || sum.Skipped != 1 {
		t.Errorf("unexpected summary %+v", sum)
	}
	if _, ok := sum.Errors[broken.ID]; !ok {
		t.Errorf("expected error recorded for broken practice")
	}
	if n, _ := store.Count(ctx, healthy.ID, records.KindPatient); n != 1 {
		t.Errorf("expected healthy practice synced, got %d patients", n)
	}
	if n, _ := store.Count(ctx, broken.ID, records.KindPatient); n != 0 {
		t.Errorf("expected nothing stored for broken practice, got %d", n)
	}
	got, _ := practices.GetByID(ctx, broken.ID)
	if got.Status != practice.StatusError {
		t.Errorf("expected broken practice in error, got %s", got.Status)
	}
}

func TestTally_CapsErrors(t *testing.T) {
	var tally Tally
	for i := 0; i < maxJobErrors+5; i++ {
		tally.fail("record %d", i)
	}
	list := tally.errorList()
	if len(list) != maxJobErrors+1 {
		t.Fatalf("expected capped list, got %d entries", len(list))
	}
	if list[len(list)-1] != "... and 5 more errors" {
		t.Errorf("unexpected tail %q", list[len(list)-1])
	}
	if tally.Failed != maxJobErrors+5 {
		t.Errorf("expected every failure counted, got %d", tally.Failed)
	}
}
