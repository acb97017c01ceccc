package plugin

import (
	"errors"
	"fmt"
	"time"
)

// Health defaults.
const (
	DefaultWindow       = 10
	DefaultDegradeAfter = 2
	DefaultDisableAfter = 3
	DefaultFailureRate  = 0.5
	DefaultCooldown     = 30 * time.Second
)

// HealthConfig holds the failure thresholds of a plugin.
type HealthConfig struct {
	// Window is the number of recent outcomes the failure rate is computed over.
	Window int
	// DegradeAfter consecutive failures move an active plugin to degraded.
	DegradeAfter int
	// DisableAfter consecutive failures move a degraded plugin to disabled.
	DisableAfter int
	// FailureRate over a full window also degrades an active plugin, and a
	// degraded plugin recovers once the rate falls below it.
	FailureRate float64
	// Cooldown is how long a plugin stays disabled before it is retried.
	Cooldown time.Duration
}

// DefaultHealthConfig returns the default thresholds.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		Window:       DefaultWindow,
		DegradeAfter: DefaultDegradeAfter,
		DisableAfter: DefaultDisableAfter,
		FailureRate:  DefaultFailureRate,
		Cooldown:     DefaultCooldown,
	}
}

// Validate reports every inconsistent threshold.
func (c HealthConfig) Validate() error {
	var errs []error
	if c.Window <= 0 {
		errs = append(errs, fmt.Errorf("window must be positive, got %d", c.Window))
	}
	if c.DegradeAfter <= 0 {
		errs = append(errs, fmt.Errorf("degrade_after must be positive, got %d", c.DegradeAfter))
	}
	if c.DisableAfter < c.DegradeAfter {
		errs = append(errs, fmt.Errorf("disable_after (%d) must not be less than degrade_after (%d)", c.DisableAfter, c.DegradeAfter))
	}
	if c.FailureRate <= 0 || c.FailureRate > 1 {
		errs = append(errs, fmt.Errorf("failure_rate must be in (0, 1], got %g", c.FailureRate))
	}
	if c.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("cooldown must not be negative, got %s", c.Cooldown))
	}
	return errors.Join(errs...)
}

// health tracks one plugin's recent outcomes. It is guarded by the owning
// entry's mutex.
type health struct {
	cfg HealthConfig

	outcomes []bool // ring of the last Window outcomes, true = failure
	next     int
	count    int
	failed   int

	consecutive int
	state       State
	disabledAt  time.Time
	// manual disables are never lifted by the cool-down.
	manual bool
	// probation is set after a cool-down retry; one failure disables again.
	probation bool
}

func newHealth(cfg HealthConfig) *health {
	return &health{
		cfg:      cfg,
		outcomes: make([]bool, cfg.Window),
		state:    StateActive,
	}
}

func (h *health) rate() float64 {
	if h.count == 0 {
		return 0
	}
	return float64(h.failed) / float64(h.count)
}

func (h *health) push(failure bool) {
	if h.count == len(h.outcomes) {
		if h.outcomes[h.next] {
			h.failed--
		}
	} else {
		h.count++
	}
	h.outcomes[h.next] = failure
	if failure {
		h.failed++
	}
	h.next = (h.next + 1) % len(h.outcomes)
}

func (h *health) reset() {
	for i := range h.outcomes {
		h.outcomes[i] = false
	}
	h.next, h.count, h.failed, h.consecutive = 0, 0, 0, 0
	h.disabledAt = time.Time{}
	h.manual = false
	h.probation = false
}

// admit returns the state dispatch sees at now, lifting an automatic
// disable whose cool-down has elapsed.
func (h *health) admit(now time.Time) State {
	if h.state == StateDisabled && !h.manual && !now.Before(h.disabledAt.Add(h.cfg.Cooldown)) {
		h.reset()
		h.state = StateActive
		h.probation = true
	}
	return h.state
}

// record adds one outcome and returns the resulting state.
func (h *health) record(failure bool, now time.Time) State {
	if h.state == StateDisabled || h.state == StateLoading {
		return h.state
	}
	h.push(failure)

	if !failure {
		h.consecutive = 0
		h.probation = false
		if h.state == StateDegraded && h.rate() < h.cfg.FailureRate {
			h.state = StateActive
		}
		return h.state
	}

	h.consecutive++
	if h.probation {
		h.disable(now, false)
		return h.state
	}
	windowFull := h.count == len(h.outcomes)
	if h.state == StateActive && (h.consecutive >= h.cfg.DegradeAfter || (windowFull && h.rate() >= h.cfg.FailureRate)) {
		h.state = StateDegraded
	}
	if h.state == StateDegraded && h.consecutive >= h.cfg.DisableAfter {
		h.disable(now, false)
	}
	return h.state
}

func (h *health) disable(now time.Time, manual bool) {
	h.state = StateDisabled
	h.disabledAt = now
	h.manual = manual
	h.probation = false
}

// enable clears the history and makes the plugin active.
func (h *health) enable() {
	h.reset()
	h.state = StateActive
}
