package monitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"watchtower/internal/adapters/config"
	domainaudit "watchtower/internal/domain/audit"
	"watchtower/internal/domain/borrower"
	domainledger "watchtower/internal/domain/ledger"
	"watchtower/pkg/errors"
	"watchtower/pkg/logger"
)

func testMonitorConfig() config.MonitorConfig {
	return config.MonitorConfig{
		LiquidationThreshold: 1.10,
		WarningThreshold:     1.25,
		CheckInterval:        time.Hour, // interval never fires during tests
		SweepConcurrency:     4,
		AuctionDuration:      time.Hour,
		AuctionGracePeriod:   time.Minute,
	}
}

func newTestService(t *testing.T, gateway domainledger.Gateway, recorder Recorder) (*Service, *Tracker) {
	t.Helper()

	cfg := testMonitorConfig()
	tracker := testTracker(t)
	orch := newTestOrchestrator(gateway, tracker, recorder, false)
	service := NewService(cfg, gateway, nil, tracker, orch, recorder, nil, nil, logger.Get())
	return service, tracker
}

func TestService_SweepResilience(t *testing.T) {
	// One failing borrower out of fifty must not abort the sweep
	gateway := new(MockGateway)
	recorder := &capturingRecorder{}
	service, tracker := newTestService(t, gateway, recorder)

	addrs := make([]string, 50)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("0x%02d", i)
	}
	gateway.On("ListActiveBorrowers", mock.Anything).Return(addrs, nil)
	gateway.On("GetDebt", mock.Anything, "0x13").
		Return(decimal.Zero, errors.ErrGatewayUnavailable)
	gateway.On("GetDebt", mock.Anything, mock.Anything).Return(decimal.NewFromInt(1000), nil)
	gateway.On("GetCollateral", mock.Anything, mock.Anything).Return(decimal.NewFromInt(1300), nil)

	result := service.sweep(context.Background(), "interval")

	assert.Equal(t, 50, result.Evaluated)
	assert.Equal(t, 1, result.Errors)
	assert.Len(t, tracker.Addresses(), 49)
}

func TestService_SweepEmitsRiskWarningOnce(t *testing.T) {
	gateway := new(MockGateway)
	recorder := &capturingRecorder{}
	service, _ := newTestService(t, gateway, recorder)

	gateway.On("ListActiveBorrowers", mock.Anything).Return([]string{"0xabc"}, nil)
	gateway.On("GetDebt", mock.Anything, "0xabc").Return(decimal.NewFromInt(1000), nil)
	gateway.On("GetCollateral", mock.Anything, "0xabc").Return(decimal.NewFromInt(1200), nil)

	service.sweep(context.Background(), "interval")
	// Unchanged inputs on the next sweep must not re-emit the warning
	service.sweep(context.Background(), "interval")

	assert.Equal(t, []domainaudit.Kind{domainaudit.KindRiskWarning}, recorder.recorded())
}

func TestService_SweepTriggersRemediation(t *testing.T) {
	gateway := new(MockGateway)
	recorder := &capturingRecorder{}
	service, tracker := newTestService(t, gateway, recorder)

	gateway.On("ListActiveBorrowers", mock.Anything).Return([]string{"0xabc"}, nil)
	gateway.On("GetDebt", mock.Anything, "0xabc").Return(decimal.NewFromInt(1000), nil)
	gateway.On("GetCollateral", mock.Anything, "0xabc").Return(decimal.NewFromInt(1050), nil)
	gateway.On("HasActiveProtection", mock.Anything, "0xabc").Return(false, nil)
	gateway.On("Liquidate", mock.Anything, "0xabc").Return(domainledger.TxResult{TxHash: "0xtx"}, nil)

	service.sweep(context.Background(), "interval")

	require.Eventually(t, func() bool {
		snap, ok := tracker.Get("0xabc")
		return ok && snap.Health == borrower.StateHealthy
	}, 2*time.Second, 10*time.Millisecond)

	gateway.AssertCalled(t, "Liquidate", mock.Anything, "0xabc")
}

func TestService_StartStopIdempotent(t *testing.T) {
	gateway := new(MockGateway)
	recorder := &capturingRecorder{}
	service, _ := newTestService(t, gateway, recorder)

	gateway.On("ListActiveBorrowers", mock.Anything).Return([]string{}, nil)

	// Stop before start is a no-op
	require.NoError(t, service.Stop())

	ctx := context.Background()
	require.NoError(t, service.Start(ctx))
	assert.True(t, service.Running())

	// Second start is a no-op
	require.NoError(t, service.Start(ctx))

	require.NoError(t, service.Stop())
	assert.False(t, service.Running())
	require.NoError(t, service.Stop())
}

func TestService_BootSweepRunsOnStart(t *testing.T) {
	gateway := new(MockGateway)
	recorder := &capturingRecorder{}
	service, tracker := newTestService(t, gateway, recorder)

	gateway.On("ListActiveBorrowers", mock.Anything).Return([]string{"0xabc"}, nil)
	gateway.On("GetDebt", mock.Anything, "0xabc").Return(decimal.NewFromInt(1000), nil)
	gateway.On("GetCollateral", mock.Anything, "0xabc").Return(decimal.NewFromInt(1300), nil)

	require.NoError(t, service.Start(context.Background()))
	defer service.Stop()

	// Start returns only after the boot sweep populated the tracker
	snap, ok := tracker.Get("0xabc")
	require.True(t, ok)
	assert.Equal(t, borrower.StateHealthy, snap.Health)
}

func TestService_ListingFailureSweepsTrackedSet(t *testing.T) {
	gateway := new(MockGateway)
	recorder := &capturingRecorder{}
	service, tracker := newTestService(t, gateway, recorder)

	// Seed the tracker through a successful pass first
	gateway.On("ListActiveBorrowers", mock.Anything).Return([]string{"0xabc"}, nil).Once()
	gateway.On("GetDebt", mock.Anything, "0xabc").Return(decimal.NewFromInt(1000), nil)
	gateway.On("GetCollateral", mock.Anything, "0xabc").Return(decimal.NewFromInt(1300), nil)
	service.sweep(context.Background(), "interval")
	require.Len(t, tracker.Addresses(), 1)

	// Listing now fails; the tracked borrower is still evaluated
	gateway.On("ListActiveBorrowers", mock.Anything).
		Return(nil, errors.ErrGatewayUnavailable)

	result := service.sweep(context.Background(), "interval")

	assert.Equal(t, 1, result.Evaluated)
	assert.Equal(t, 1, result.Errors)
}

func TestService_GetStatusSnapshot(t *testing.T) {
	gateway := new(MockGateway)
	recorder := &capturingRecorder{}
	service, tracker := newTestService(t, gateway, recorder)

	_, err := tracker.Evaluate("0xrisk", decimal.NewFromInt(1000), decimal.NewFromInt(1200))
	require.NoError(t, err)
	_, err = tracker.Evaluate("0xliq", decimal.NewFromInt(1000), decimal.NewFromInt(1050))
	require.NoError(t, err)

	status := service.GetStatus(context.Background())

	assert.False(t, status.Running)
	require.Len(t, status.AtRiskBorrowers, 1)
	assert.Equal(t, "0xrisk", status.AtRiskBorrowers[0].Address)
	require.Len(t, status.PendingLiquidations, 1)
	assert.Equal(t, "0xliq", status.PendingLiquidations[0].Address)
	assert.Equal(t, "1.1", status.Thresholds.Liquidation)
}

func TestService_GetBorrowerDetail(t *testing.T) {
	gateway := new(MockGateway)
	recorder := &capturingRecorder{}
	service, tracker := newTestService(t, gateway, recorder)

	_, err := tracker.Evaluate("0xabc", decimal.NewFromInt(1000), decimal.NewFromInt(1200))
	require.NoError(t, err)
	gateway.On("HasActiveProtection", mock.Anything, "0xabc").Return(true, nil)

	detail, err := service.GetBorrowerDetail(context.Background(), "0xabc")

	require.NoError(t, err)
	assert.Equal(t, "0xabc", detail.Address)
	assert.True(t, detail.ProtectionActive)
	assert.Nil(t, detail.ActiveAuction)

	_, err = service.GetBorrowerDetail(context.Background(), "0xunknown")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
