// Package guard orchestrates the trial-abuse decision for every activation
// attempt: blocklist lookup, IP and device account tracking, escalation to
// a terminal block, and risk scoring. The account-count thresholds escalate
// to permanent blocks; trial-count overages (handled by the trial registry)
// only log suspicions. That asymmetry is deliberate and preserved here.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	apierrors "trialguard/internal/errors"
	"trialguard/internal/fingerprint"
	"trialguard/internal/infrastructure"
	"trialguard/internal/ledger"
	"trialguard/internal/risk"
)

// Account-count thresholds. Soft breaches log a suspicion event; hard
// breaches append a blocklist entry and reject.
const (
	SoftIPLimit     = 3
	HardIPLimit     = SoftIPLimit + 2
	SoftDeviceLimit = 2
	HardDeviceLimit = SoftDeviceLimit + 1
)

// Request is a trial-activation attempt as seen by the guard
type Request struct {
	Email       string
	IP          string
	Fingerprint *fingerprint.Descriptor
}

// Decision is the request context attached for downstream use when the
// guard allows an attempt
type Decision struct {
	IP                   string           `json:"ip"`
	IPRange              string           `json:"ip_range"`
	DeviceHash           string           `json:"device_hash,omitempty"`
	AccountsFromIP       int              `json:"accounts_from_ip"`
	AccountsFromDevice   int              `json:"accounts_from_device"`
	SuspiciousPatterns   []risk.Indicator `json:"suspicious_patterns,omitempty"`
	RequiresVerification bool             `json:"requires_verification"`
	FailedOpen           bool             `json:"-"`
}

// BlockedError is a terminal rejection from a blocklist match
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked: %s", e.Reason)
}

// APIError maps the rejection to its transport representation
func (e *BlockedError) APIError() *apierrors.APIError {
	return apierrors.Blocked(e.Reason)
}

// ThresholdError is a rejection from an account-count overage; the
// corresponding blocklist entry has already been appended when this is
// returned.
type ThresholdError struct {
	Code    string
	Subject string
	Count   int
}

func (e *ThresholdError) Error() string {
	return fmt.Sprintf("%s: %d accounts from %s", e.Code, e.Count, e.Subject)
}

// APIError maps the rejection to its transport representation
func (e *ThresholdError) APIError() *apierrors.APIError {
	switch e.Code {
	case apierrors.CodeIPLimitExceeded:
		return apierrors.ThresholdExceeded(e.Code, fmt.Sprintf("Created %d accounts from same IP", e.Count))
	default:
		return apierrors.ThresholdExceeded(e.Code, fmt.Sprintf("Created %d accounts from same device", e.Count))
	}
}

// Guard evaluates trial-activation attempts against the abuse ledger
type Guard struct {
	store      *ledger.Store
	logger     *slog.Logger
	metrics    *infrastructure.Metrics
	failClosed bool
	now        func() time.Time
}

// Option configures a Guard
type Option func(*Guard)

// WithFailClosed makes persistence faults reject requests instead of
// letting them through. The default favors availability over strictness.
func WithFailClosed(failClosed bool) Option {
	return func(g *Guard) { g.failClosed = failClosed }
}

// WithMetrics attaches business metric instruments
func WithMetrics(m *infrastructure.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// WithNow overrides the clock, for tests
func WithNow(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// New creates a guard backed by the given ledger store
func New(store *ledger.Store, logger *slog.Logger, opts ...Option) *Guard {
	g := &Guard{
		store:  store,
		logger: logger.With(slog.String("component", "guard")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check runs the full decision algorithm for one activation attempt.
// On success it returns the decision context; on rejection it returns a
// *BlockedError or *ThresholdError. Persistence faults follow the
// configured fail-open/fail-closed policy.
func (g *Guard) Check(ctx context.Context, req Request) (*Decision, error) {
	now := g.now().UTC()
	ipRange := IPRange(req.IP)
	deviceHash := fingerprint.Hash(req.Fingerprint)

	decision := &Decision{
		IP:         req.IP,
		IPRange:    ipRange,
		DeviceHash: deviceHash,
	}

	var rejection error
	err := g.store.Update(ctx, func(l *ledger.Ledger) error {
		// Blocklist first, before any mutation
		if entry := l.LookupBlock(req.IP, ipRange, deviceHash, req.Email); entry != nil {
			return &BlockedError{Reason: entry.Reason}
		}

		ipRec := l.TouchIP(req.IP, req.Email, now)
		accountsFromIP := len(ipRec.Accounts)
		decision.AccountsFromIP = accountsFromIP

		if accountsFromIP > SoftIPLimit {
			l.AppendSuspicion(ledger.SuspicionMultipleAccountsSameIP, req.IP,
				fmt.Sprintf("%d accounts created from same IP", accountsFromIP), now)
			g.countSuspicion(ctx, ledger.SuspicionMultipleAccountsSameIP)
		}
		if accountsFromIP > HardIPLimit {
			l.AppendBlock(ledger.BlockEntry{
				IP:      req.IP,
				IPRange: ipRange,
				Reason:  fmt.Sprintf("Created %d accounts from same IP", accountsFromIP),
			}, now)
			rejection = &ThresholdError{
				Code:    apierrors.CodeIPLimitExceeded,
				Subject: req.IP,
				Count:   accountsFromIP,
			}
			// Return nil so the suspicion and block entries persist
			return nil
		}

		if deviceHash != "" {
			devRec := l.TouchDevice(deviceHash, req.Email, req.Fingerprint, now)
			accountsFromDevice := len(devRec.Accounts)
			decision.AccountsFromDevice = accountsFromDevice

			if accountsFromDevice > SoftDeviceLimit {
				l.AppendSuspicion(ledger.SuspicionMultipleAccountsSameDevice, deviceHash,
					fmt.Sprintf("%d accounts created from same device", accountsFromDevice), now)
				g.countSuspicion(ctx, ledger.SuspicionMultipleAccountsSameDevice)
			}
			if accountsFromDevice > HardDeviceLimit {
				l.AppendBlock(ledger.BlockEntry{
					DeviceHash: deviceHash,
					Reason:     fmt.Sprintf("Created %d accounts from same device", accountsFromDevice),
				}, now)
				rejection = &ThresholdError{
					Code:    apierrors.CodeDeviceLimitExceeded,
					Subject: deviceHash,
					Count:   accountsFromDevice,
				}
				return nil
			}
		}

		indicators := risk.Evaluate(req.Email, req.IP, req.Fingerprint)
		if len(indicators) > 0 {
			decision.SuspiciousPatterns = indicators
			l.AppendSuspicion(ledger.SuspicionRiskIndicators, req.Email,
				fmt.Sprintf("indicators: %s", joinIndicators(indicators)), now)
			g.countSuspicion(ctx, ledger.SuspicionRiskIndicators)
		}
		decision.RequiresVerification = risk.RequiresVerification(indicators)

		return nil
	})

	if err != nil {
		var blocked *BlockedError
		if errors.As(err, &blocked) {
			g.logger.WarnContext(ctx, "activation attempt blocked",
				slog.String("email", req.Email),
				slog.String("ip", req.IP),
				slog.String("device_hash", deviceHash),
				slog.String("reason", blocked.Reason))
			g.countDecision(ctx, "blocked")
			return nil, blocked
		}
		return g.handleStoreFault(ctx, decision, err)
	}

	if rejection != nil {
		var threshold *ThresholdError
		errors.As(rejection, &threshold)
		g.logger.WarnContext(ctx, "activation attempt rejected by threshold",
			slog.String("email", req.Email),
			slog.String("code", threshold.Code),
			slog.String("subject", threshold.Subject),
			slog.Int("count", threshold.Count))
		g.countDecision(ctx, "threshold_rejected")
		if g.metrics != nil {
			g.metrics.BlocksAppended.Add(ctx, 1)
		}
		return nil, rejection
	}

	g.store.ArchiveFingerprint(ctx, req.Fingerprint, now)

	g.logger.InfoContext(ctx, "activation attempt allowed",
		slog.String("email", req.Email),
		slog.String("ip", req.IP),
		slog.Int("accounts_from_ip", decision.AccountsFromIP),
		slog.Int("accounts_from_device", decision.AccountsFromDevice),
		slog.Bool("requires_verification", decision.RequiresVerification))
	g.countDecision(ctx, "allowed")

	return decision, nil
}

// handleStoreFault applies the fail-open/fail-closed policy to a ledger
// persistence fault
func (g *Guard) handleStoreFault(ctx context.Context, decision *Decision, err error) (*Decision, error) {
	g.logger.ErrorContext(ctx, "ledger store fault during guard check",
		slog.String("error", err.Error()),
		slog.Bool("fail_closed", g.failClosed))

	if g.failClosed {
		g.countDecision(ctx, "failed_closed")
		return nil, fmt.Errorf("guard check failed: %w", err)
	}

	// Availability over strictness: let the request through rather than
	// punish legitimate users for an infrastructure fault.
	decision.FailedOpen = true
	g.countDecision(ctx, "failed_open")
	return decision, nil
}

func (g *Guard) countDecision(ctx context.Context, outcome string) {
	if g.metrics == nil {
		return
	}
	g.metrics.GuardDecisions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (g *Guard) countSuspicion(ctx context.Context, eventType string) {
	if g.metrics == nil {
		return
	}
	g.metrics.SuspicionEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// IPRange reduces an address to its tracking range: the first three octets
// for IPv4, the first four groups for IPv6
func IPRange(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		// Unparseable addresses fall back to a textual prefix
		if parts := strings.Split(ip, "."); len(parts) == 4 {
			return strings.Join(parts[:3], ".")
		}
		return ip
	}

	if addr.Is4() || addr.Is4In6() {
		v4 := addr.As4()
		return fmt.Sprintf("%d.%d.%d", v4[0], v4[1], v4[2])
	}

	v6 := addr.As16()
	return fmt.Sprintf("%x:%x:%x:%x",
		uint16(v6[0])<<8|uint16(v6[1]),
		uint16(v6[2])<<8|uint16(v6[3]),
		uint16(v6[4])<<8|uint16(v6[5]),
		uint16(v6[6])<<8|uint16(v6[7]))
}

func joinIndicators(indicators []risk.Indicator) string {
	parts := make([]string, len(indicators))
	for i, ind := range indicators {
		parts[i] = string(ind)
	}
	return strings.Join(parts, ",")
}
