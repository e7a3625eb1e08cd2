package practice

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

var subdomainPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Onboard validates and stores a new practice configuration.
func (s *Service) Onboard(ctx context.Context, p *Practice) error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !subdomainPattern.MatchString(p.Subdomain) {
		return fmt.Errorf("invalid subdomain: %q", p.Subdomain)
	}
	if p.Environment == "" {
		p.Environment = EnvSandbox
	}
	if p.Environment != EnvSandbox && p.Environment != EnvProduction {
		return fmt.Errorf("environment must be %q or %q, got %q", EnvSandbox, EnvProduction, p.Environment)
	}
	if _, err := s.repo.GetBySubdomain(ctx, p.Subdomain); err == nil {
		return fmt.Errorf("subdomain %q is already registered", p.Subdomain)
	}
	p.Status = StatusUnconfigured
	if p.Configured() {
		p.Status = StatusConnected
	}
	p.Active = true
	return s.repo.Create(ctx, p)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Practice, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListActive(ctx context.Context) ([]*Practice, error) {
	return s.repo.ListActive(ctx)
}
