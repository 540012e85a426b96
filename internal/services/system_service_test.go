package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/cartledger/api/internal/domain"
)

type stubHealthRepository struct {
	collectFn func(context.Context) (domain.SystemHealthReport, error)
}

func (s *stubHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if s.collectFn != nil {
		return s.collectFn(ctx)
	}
	return domain.SystemHealthReport{}, nil
}

func TestSystemServiceHealthStampsBuildMetadata(t *testing.T) {
	repo := &stubHealthRepository{}
	repo.collectFn = func(context.Context) (domain.SystemHealthReport, error) {
		return domain.SystemHealthReport{
			Status: domain.HealthStatusDegraded,
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusDegraded},
			},
		}, nil
	}

	svc, err := NewSystemService(SystemServiceDeps{
		Health:      repo,
		Version:     "1.4.2",
		Environment: "staging",
		Clock:       fixedClock,
	})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	report, err := svc.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded status, got %q", report.Status)
	}
	if report.Version != "1.4.2" || report.Environment != "staging" {
		t.Fatalf("expected build metadata stamped, got %+v", report)
	}
	if report.GeneratedAt != fixedClock() {
		t.Fatalf("expected generated timestamp, got %v", report.GeneratedAt)
	}
}

func TestSystemServiceHealthTranslatesCollectFailure(t *testing.T) {
	repo := &stubHealthRepository{}
	repo.collectFn = func(context.Context) (domain.SystemHealthReport, error) {
		return domain.SystemHealthReport{}, errors.New("probe failed")
	}

	svc, err := NewSystemService(SystemServiceDeps{Health: repo, Clock: fixedClock})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	_, err = svc.Health(context.Background())
	if !errors.Is(err, ErrSystemUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
