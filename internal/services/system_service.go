package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/cartledger/api/internal/domain"
	"github.com/cartledger/api/internal/repositories"
)

var (
	errSystemRepositoryRequired = errors.New("system service: health repository is required")
	errSystemClockRequired      = errors.New("system service: clock is required")
)

// ErrSystemUnavailable indicates health information could not be collected.
var ErrSystemUnavailable = errors.New("system service: unavailable")

// SystemServiceDeps wires the health repository and build metadata.
type SystemServiceDeps struct {
	Health      repositories.HealthRepository
	Version     string
	Environment string
	Clock       func() time.Time
}

type systemService struct {
	health      repositories.HealthRepository
	version     string
	environment string
	now         func() time.Time
}

// NewSystemService constructs a SystemService enforcing dependency validation.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.Health == nil {
		return nil, errSystemRepositoryRequired
	}
	if deps.Clock == nil {
		return nil, errSystemClockRequired
	}

	return &systemService{
		health:      deps.Health,
		version:     strings.TrimSpace(deps.Version),
		environment: strings.TrimSpace(deps.Environment),
		now:         func() time.Time { return deps.Clock().UTC() },
	}, nil
}

// Health aggregates dependency checks into one report.
func (s *systemService) Health(ctx context.Context) (SystemHealthReport, error) {
	if s == nil || s.health == nil {
		return SystemHealthReport{}, ErrSystemUnavailable
	}

	report, err := s.health.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, ErrSystemUnavailable
	}

	report.Version = s.version
	report.Environment = s.environment
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = s.now()
	}
	if report.Status == "" {
		report.Status = domain.HealthStatusOK
	}
	return report, nil
}
