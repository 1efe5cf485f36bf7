package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/repositories"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// Uptime reports how long the process has been running at now.
func (b BuildInfo) Uptime(now time.Time) time.Duration {
	if b.StartedAt.IsZero() || now.Before(b.StartedAt) {
		return 0
	}
	return now.Sub(b.StartedAt)
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
	Logger           func(ctx context.Context, event string, fields map[string]any)
}

type systemService struct {
	probes repositories.HealthRepository
	now    func() time.Time
	build  BuildInfo
	log    func(context.Context, string, map[string]any)

	mu         sync.Mutex
	lastStatus string
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service behind the readiness probe.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	svc := &systemService{
		probes:     deps.HealthRepository,
		now:        func() time.Time { return clock().UTC() },
		build:      deps.Build,
		log:        deps.Logger,
		lastStatus: domain.HealthStatusOK,
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.now()
	}
	if svc.log == nil {
		svc.log = func(context.Context, string, map[string]any) {}
	}
	return svc, nil
}

// HealthReport probes every dependency and stamps the result with build metadata. A report
// without an overall status takes the worst status among its checks.
func (s *systemService) HealthReport(ctx context.Context) (domain.SystemHealthReport, error) {
	if ctx == nil {
		return domain.SystemHealthReport{}, errors.New("system service: context is required")
	}
	report, err := s.probes.Collect(ctx)
	if err != nil {
		return domain.SystemHealthReport{}, err
	}

	now := s.now()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	if report.Version == "" {
		report.Version = s.build.Version
	}
	if report.CommitSHA == "" {
		report.CommitSHA = s.build.CommitSHA
	}
	if report.Environment == "" {
		report.Environment = s.build.Environment
	}
	if report.Uptime <= 0 {
		report.Uptime = s.build.Uptime(now)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	if strings.TrimSpace(report.Status) == "" {
		report.Status = worstStatus(report.Checks)
	}

	s.logTransition(ctx, report)
	return report, nil
}

func (s *systemService) logTransition(ctx context.Context, report domain.SystemHealthReport) {
	s.mu.Lock()
	previous := s.lastStatus
	s.lastStatus = report.Status
	s.mu.Unlock()
	if previous == report.Status {
		return
	}
	if report.Status == domain.HealthStatusOK {
		s.log(ctx, "system.health_recovered", map[string]any{"previous": previous})
		return
	}
	s.log(ctx, "system.health_degraded", map[string]any{
		"status":  report.Status,
		"failing": strings.Join(failingChecks(report.Checks), ","),
	})
}

func failingChecks(checks map[string]domain.SystemHealthCheck) []string {
	names := make([]string, 0, len(checks))
	for name, check := range checks {
		if check.Status != domain.HealthStatusOK && check.Status != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func worstStatus(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusError:
			return domain.HealthStatusError
		case domain.HealthStatusOK, "":
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
