// Package delivery implements the deliverability policy: bounce tracking
// with soft-to-hard escalation and the send-time suppression list.
package delivery

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/dripflow/dripflow/pkg/protocol"
)

// DefaultSoftBounceThreshold is how many soft bounces escalate to a hard
// bounce when no threshold is configured.
const DefaultSoftBounceThreshold = 3

// Policy tracks bounces per address and suppresses addresses that hard
// bounced or crossed the soft-bounce escalation threshold. The interpreter
// consults IsSuppressed before every send.
type Policy struct {
	threshold int
	logger    *slog.Logger

	mu         sync.Mutex
	softCounts map[string]int
	suppressed map[string]struct{}
}

// NewPolicy creates a bounce policy. The escalation threshold is
// configurable; zero or negative falls back to the default.
func NewPolicy(softBounceThreshold int, logger *slog.Logger) *Policy {
	if softBounceThreshold <= 0 {
		softBounceThreshold = DefaultSoftBounceThreshold
	}

	return &Policy{
		threshold:  softBounceThreshold,
		logger:     logger.With("module", "delivery"),
		softCounts: make(map[string]int),
		suppressed: make(map[string]struct{}),
	}
}

// RecordBounce ingests a bounce report from the sending transport. A hard
// bounce suppresses immediately; soft bounces accumulate until the
// escalation threshold.
func (p *Policy) RecordBounce(report protocol.BounceReport) error {
	if report.Email == "" {
		return fmt.Errorf("bounce report without email")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch report.Kind {
	case protocol.BounceHard:
		p.suppressLocked(report.Email, "hard bounce")
	case protocol.BounceSoft:
		p.softCounts[report.Email]++
		if p.softCounts[report.Email] >= p.threshold {
			p.suppressLocked(report.Email, fmt.Sprintf("%d soft bounces", p.softCounts[report.Email]))
		}
	default:
		return fmt.Errorf("unknown bounce kind: %q", report.Kind)
	}

	return nil
}

// IsSuppressed reports whether the address must not be sent to.
func (p *Policy) IsSuppressed(email string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.suppressed[email]

	return ok
}

// Suppress adds an address to the suppression list directly, for manual
// unsubscribes and imports.
func (p *Policy) Suppress(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.suppressLocked(email, "manual")
}

func (p *Policy) suppressLocked(email, reason string) {
	if _, ok := p.suppressed[email]; ok {
		return
	}

	p.suppressed[email] = struct{}{}
	p.logger.Info("Address suppressed", "email", email, "reason", reason)
}
