package delivery

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripflow/dripflow/pkg/protocol"
)

func newTestPolicy(threshold int) *Policy {
	return NewPolicy(threshold, slog.New(slog.NewTextHandler(os.Stdout, nil)))
}

func bounce(email string, kind protocol.BounceKind) protocol.BounceReport {
	return protocol.BounceReport{Email: email, Kind: kind, ReportedAt: time.Now()}
}

func TestHardBounceSuppressesImmediately(t *testing.T) {
	policy := newTestPolicy(3)

	require.NoError(t, policy.RecordBounce(bounce("ada@example.com", protocol.BounceHard)))

	assert.True(t, policy.IsSuppressed("ada@example.com"))
	assert.False(t, policy.IsSuppressed("other@example.com"))
}

func TestSoftBouncesEscalateAtThreshold(t *testing.T) {
	policy := newTestPolicy(3)

	require.NoError(t, policy.RecordBounce(bounce("ada@example.com", protocol.BounceSoft)))
	assert.False(t, policy.IsSuppressed("ada@example.com"))

	require.NoError(t, policy.RecordBounce(bounce("ada@example.com", protocol.BounceSoft)))
	assert.False(t, policy.IsSuppressed("ada@example.com"))

	require.NoError(t, policy.RecordBounce(bounce("ada@example.com", protocol.BounceSoft)))
	assert.True(t, policy.IsSuppressed("ada@example.com"))
}

func TestSoftBounceCountsArePerAddress(t *testing.T) {
	policy := newTestPolicy(2)

	require.NoError(t, policy.RecordBounce(bounce("a@example.com", protocol.BounceSoft)))
	require.NoError(t, policy.RecordBounce(bounce("b@example.com", protocol.BounceSoft)))

	assert.False(t, policy.IsSuppressed("a@example.com"))
	assert.False(t, policy.IsSuppressed("b@example.com"))

	require.NoError(t, policy.RecordBounce(bounce("a@example.com", protocol.BounceSoft)))

	assert.True(t, policy.IsSuppressed("a@example.com"))
	assert.False(t, policy.IsSuppressed("b@example.com"))
}

func TestZeroThresholdUsesDefault(t *testing.T) {
	policy := newTestPolicy(0)

	for range DefaultSoftBounceThreshold - 1 {
		require.NoError(t, policy.RecordBounce(bounce("ada@example.com", protocol.BounceSoft)))
	}

	assert.False(t, policy.IsSuppressed("ada@example.com"))

	require.NoError(t, policy.RecordBounce(bounce("ada@example.com", protocol.BounceSoft)))
	assert.True(t, policy.IsSuppressed("ada@example.com"))
}

func TestRecordBounceValidation(t *testing.T) {
	policy := newTestPolicy(3)

	assert.Error(t, policy.RecordBounce(protocol.BounceReport{Kind: protocol.BounceSoft}))
	assert.Error(t, policy.RecordBounce(bounce("ada@example.com", "squishy")))
}

func TestManualSuppression(t *testing.T) {
	policy := newTestPolicy(3)

	policy.Suppress("ada@example.com")
	assert.True(t, policy.IsSuppressed("ada@example.com"))

	// Idempotent.
	policy.Suppress("ada@example.com")
	assert.True(t, policy.IsSuppressed("ada@example.com"))
}
