package practice

import (
	"context"
	"testing"
	"time"
)

func TestService_Onboard(t *testing.T) {
	svc := NewService(NewInMemoryRepository())
	p := &Practice{Name: "Bright Smiles", Subdomain: "bright-smiles", LocationID: "101", APIKey: "k"}
	if err := svc.Onboard(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Environment != EnvSandbox {
		t.Errorf("expected default environment sandbox, got %q", p.Environment)
	}
	if p.Status != StatusConnected {
		t.Errorf("expected status connected, got %q", p.Status)
	}
	if !p.Active {
		t.Error("expected practice to be active")
	}
}

func TestService_Onboard_Unconfigured(t *testing.T) {
	svc := NewService(NewInMemoryRepository())
	p := &Practice{Name: "No Key", Subdomain: "no-key"}
	if err := svc.Onboard(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != StatusUnconfigured {
		t.Errorf("expected unconfigured, got %q", p.Status)
	}
}

func TestService_Onboard_Validation(t *testing.T) {
	tests := []struct {
		name string
		p    Practice
	}{
		{"missing name", Practice{Subdomain: "a"}},
		{"bad subdomain", Practice{Name: "x", Subdomain: "Bad Sub"}},
		{"bad environment", Practice{Name: "x", Subdomain: "ok", Environment: "staging"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(NewInMemoryRepository())
			p := tt.p
			if err := svc.Onboard(context.Background(), &p); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestService_Onboard_DuplicateSubdomain(t *testing.T) {
	svc := NewService(NewInMemoryRepository())
	ctx := context.Background()
	if err := svc.Onboard(ctx, &Practice{Name: "a", Subdomain: "dup"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Onboard(ctx, &Practice{Name: "b", Subdomain: "dup"}); err == nil {
		t.Fatal("expected duplicate subdomain error")
	}
}

func TestInMemoryRepository_StatusTransitions(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	p := &Practice{Name: "a", Subdomain: "a", Active: true}
	repo.Create(ctx, p)

	if err := repo.SetStatus(ctx, p.ID, StatusError, "boom"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := repo.GetByID(ctx, p.ID)
	if got.Status != StatusError || got.LastError == nil || *got.LastError != "boom" {
		t.Fatalf("unexpected state: %+v", got)
	}

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := repo.MarkSynced(ctx, p.ID, at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ = repo.GetByID(ctx, p.ID)
	if got.Status != StatusConnected || got.LastError != nil || !got.LastSyncedAt.Equal(at) {
		t.Fatalf("unexpected state after sync: %+v", got)
	}
}
