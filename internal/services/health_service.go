package services

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"trialguard/internal/ledger"
	"trialguard/internal/trial"
)

// HealthService reports process and dependency health
type HealthService struct {
	version     string
	buildTime   string
	ledgerStore *ledger.Store
	trialStore  *trial.Store
	startTime   time.Time
	logger      *slog.Logger
}

// HealthStatus is the health check response
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime,omitempty"`
	Services  map[string]interface{} `json:"services,omitempty"`
}

// VersionInfo is the version endpoint response
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// NewHealthService creates a health service
func NewHealthService(version, buildTime string, ledgerStore *ledger.Store, trialStore *trial.Store, logger *slog.Logger) *HealthService {
	return &HealthService{
		version:     version,
		buildTime:   buildTime,
		ledgerStore: ledgerStore,
		trialStore:  trialStore,
		startTime:   time.Now(),
		logger:      logger.With(slog.String("service", "health")),
	}
}

// HealthCheck reports overall health with per-dependency detail
func (s *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	services := map[string]interface{}{
		"ledger_store": s.checkLedger(ctx),
		"trial_store":  s.checkTrialStore(ctx),
	}

	status := "healthy"
	for _, svc := range services {
		if svc != "ok" {
			status = "degraded"
		}
	}

	return HealthStatus{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Version:   s.version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Services:  services,
	}
}

// ReadinessCheck reports whether the engine can serve traffic
func (s *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := "ready"
	if s.checkLedger(ctx) != "ok" || s.checkTrialStore(ctx) != "ok" {
		status = "not_ready"
	}
	return HealthStatus{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Version:   s.version,
	}
}

// LivenessCheck reports that the process is up
func (s *HealthService) LivenessCheck(_ context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now().UTC(),
		Version:   s.version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
	}
}

// Version reports build information
func (s *HealthService) Version() VersionInfo {
	return VersionInfo{
		Version:   s.version,
		BuildTime: s.buildTime,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

func (s *HealthService) checkLedger(ctx context.Context) string {
	if s.ledgerStore == nil {
		return "not configured"
	}
	if err := s.ledgerStore.View(ctx, func(*ledger.Ledger) error { return nil }); err != nil {
		return err.Error()
	}
	return "ok"
}

func (s *HealthService) checkTrialStore(ctx context.Context) string {
	if s.trialStore == nil {
		return "not configured"
	}
	if _, err := s.trialStore.ListAll(ctx); err != nil {
		return err.Error()
	}
	return "ok"
}
