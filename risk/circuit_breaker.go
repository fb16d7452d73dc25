package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CIRCUIT BREAKER - Halts new entries after consecutive order failures
// ═══════════════════════════════════════════════════════════════════════════════
//
// Closes are never blocked; a tripped breaker only stops OpenPosition.
//
// ═══════════════════════════════════════════════════════════════════════════════

type CircuitBreaker struct {
	mu sync.RWMutex

	// Configuration
	maxConsecutiveFailures int
	cooldownDuration       time.Duration

	// State
	consecutiveFailures int
	dailyFailures       int
	tripped             bool
	trippedAt           time.Time
	reason              string

	// Tracking
	lastResetDate string

	now func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker. maxFailures <= 0 disables it.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxConsecutiveFailures: maxFailures,
		cooldownDuration:       cooldown,
		now:                    time.Now,
	}
}

// Check returns true if new entries should be halted
func (cb *CircuitBreaker) Check() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.rollDay()

	// If already tripped, check cooldown
	if cb.tripped {
		if cb.now().Sub(cb.trippedAt) > cb.cooldownDuration {
			cb.tripped = false
			cb.consecutiveFailures = 0
			log.Info().Msg("✅ Circuit breaker reset after cooldown")
			return false
		}
		return true
	}

	return false
}

// RecordFailure records an order that failed after all retries
func (cb *CircuitBreaker) RecordFailure(symbol string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.rollDay()
	cb.consecutiveFailures++
	cb.dailyFailures++

	if cb.maxConsecutiveFailures > 0 && !cb.tripped && cb.consecutiveFailures >= cb.maxConsecutiveFailures {
		cb.trip("Max consecutive order failures", symbol)
	}
}

// RecordSuccess records an order that went through
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
}

// trip activates the circuit breaker
func (cb *CircuitBreaker) trip(reason, symbol string) {
	cb.tripped = true
	cb.trippedAt = cb.now()
	cb.reason = reason
	log.Warn().
		Str("reason", reason).
		Str("last_symbol", symbol).
		Int("consecutive_failures", cb.consecutiveFailures).
		Int("daily_failures", cb.dailyFailures).
		Dur("cooldown", cb.cooldownDuration).
		Msg("🚨 CIRCUIT BREAKER TRIPPED")
}

// rollDay clears the breaker on the first call of a new day
func (cb *CircuitBreaker) rollDay() {
	today := cb.now().Format("2006-01-02")
	if cb.lastResetDate != today {
		cb.reset()
		cb.lastResetDate = today
	}
}

// reset clears the circuit breaker state
func (cb *CircuitBreaker) reset() {
	cb.consecutiveFailures = 0
	cb.dailyFailures = 0
	cb.tripped = false
	cb.reason = ""
}

// IsTripped returns current trip state
func (cb *CircuitBreaker) IsTripped() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.tripped
}

// GetStats returns circuit breaker statistics
func (cb *CircuitBreaker) GetStats() (consecutiveFailures, dailyFailures int, tripped bool, reason string) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.consecutiveFailures, cb.dailyFailures, cb.tripped, cb.reason
}

// ForceReset manually resets the circuit breaker
func (cb *CircuitBreaker) ForceReset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.reset()
	log.Info().Msg("Circuit breaker manually reset")
}
