package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "trialguard/internal/errors"
	"trialguard/internal/fingerprint"
	"trialguard/internal/guard"
	"trialguard/internal/ledger"
	"trialguard/internal/trial"
)

var testTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	guardSvc  *GuardService
	trialSvc  *TrialService
	ledgerSvc *LedgerService
	ledger    *ledger.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.Default()

	dir := t.TempDir()
	fs := ledger.NewFileStore(filepath.Join(dir, "ledger.json"), filepath.Join(dir, "fp.json"))
	ledgerStore, err := ledger.NewStore(fs, logger)
	require.NoError(t, err)
	t.Cleanup(ledgerStore.Close)

	trialStore, err := trial.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { trialStore.Close() })

	g := guard.New(ledgerStore, logger, guard.WithNow(func() time.Time { return testTime }))
	registry := trial.NewRegistry(trialStore, ledgerStore, logger,
		trial.WithNow(func() time.Time { return testTime }))

	return &fixture{
		guardSvc:  NewGuardService(g, logger),
		trialSvc:  NewTrialService(registry, g, logger),
		ledgerSvc: NewLedgerService(ledgerStore, logger),
		ledger:    ledgerStore,
	}
}

func testFingerprint() *fingerprint.Descriptor {
	return &fingerprint.Descriptor{
		UserAgent:        "Mozilla/5.0",
		ScreenResolution: fingerprint.ScreenResolution{Width: 1920, Height: 1080},
		Timezone:         "Asia/Baghdad",
		Language:         "en-US",
		Platform:         "Win32",
	}
}

func TestGuardServiceCheckAllows(t *testing.T) {
	f := newFixture(t)

	decision, err := f.guardSvc.Check(context.Background(), "a@example.com", "1.2.3.4", testFingerprint())
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", decision.IPRange)
}

func TestGuardServiceCheckMapsBlockToAPIError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ledger.Update(ctx, func(l *ledger.Ledger) error {
		l.AppendBlock(ledger.BlockEntry{IP: "1.2.3.4", Reason: "manual block"}, testTime)
		return nil
	}))

	_, err := f.guardSvc.Check(ctx, "a@example.com", "1.2.3.4", testFingerprint())
	var apiErr *apierrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, apierrors.CodeTrialAbuseBlocked, apiErr.Code)
	assert.Equal(t, "manual block", apiErr.Message)
}

func TestTrialServiceStartTrial(t *testing.T) {
	f := newFixture(t)

	created, err := f.trialSvc.StartTrial(context.Background(), StartTrialInput{
		UserID:      "u1",
		Email:       "a@example.com",
		ProductID:   "p1",
		ProductName: "Analytics Pro",
		IP:          "1.2.3.4",
		Fingerprint: testFingerprint(),
	})
	require.NoError(t, err)
	assert.Equal(t, testTime.Add(7*24*time.Hour), created.EndDate)
}

func TestTrialServiceDuplicateMapsTo409(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := StartTrialInput{
		UserID: "u1", Email: "a@example.com", ProductID: "p1",
		IP: "1.2.3.4", Fingerprint: testFingerprint(),
	}
	_, err := f.trialSvc.StartTrial(ctx, in)
	require.NoError(t, err)

	_, err = f.trialSvc.StartTrial(ctx, in)
	var apiErr *apierrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, apierrors.CodeDuplicateTrial, apiErr.Code)
}

func TestTrialServiceGuardRejectionStopsActivation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Push the IP past the hard account limit
	for i := 1; i <= 6; i++ {
		fp := testFingerprint()
		fp.UserAgent = fmt.Sprintf("UA-%d", i)
		_, _ = f.guardSvc.Check(ctx, fmt.Sprintf("user%d@example.com", i), "9.9.9.9", fp)
	}

	_, err := f.trialSvc.StartTrial(ctx, StartTrialInput{
		UserID: "u7", Email: "user7@example.com", ProductID: "p1",
		IP: "9.9.9.9", Fingerprint: testFingerprint(),
	})
	var apiErr *apierrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, apierrors.CodeTrialAbuseBlocked, apiErr.Code)

	// Nothing was activated
	status, err := f.trialSvc.CheckStatus(ctx, "u7", "p1")
	require.NoError(t, err)
	assert.False(t, status.HasTrial)
}

func TestLedgerServiceReadViews(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	suspicions, err := f.ledgerSvc.Suspicions(ctx)
	require.NoError(t, err)
	assert.Empty(t, suspicions)

	require.NoError(t, f.ledger.Update(ctx, func(l *ledger.Ledger) error {
		l.AppendSuspicion(ledger.SuspicionMultipleAccountsSameIP, "1.2.3.4", "4 accounts", testTime)
		l.AppendBlock(ledger.BlockEntry{IP: "1.2.3.4", Reason: "overage"}, testTime)
		return nil
	}))

	suspicions, err = f.ledgerSvc.Suspicions(ctx)
	require.NoError(t, err)
	require.Len(t, suspicions, 1)

	blocklist, err := f.ledgerSvc.Blocklist(ctx)
	require.NoError(t, err)
	require.Len(t, blocklist, 1)
	assert.Equal(t, "overage", blocklist[0].Reason)
}

func TestTrialServiceDeleteTrial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.trialSvc.StartTrial(ctx, StartTrialInput{
		UserID: "u1", Email: "a@example.com", ProductID: "p1",
		IP: "1.2.3.4", Fingerprint: testFingerprint(),
	})
	require.NoError(t, err)

	require.NoError(t, f.trialSvc.DeleteTrial(ctx, created.ID))

	var apiErr *apierrors.APIError
	err = f.trialSvc.DeleteTrial(ctx, created.ID)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}
