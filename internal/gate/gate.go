package gate

import (
	"hash/fnv"
	"sync"
	"time"
)

// RiskLevel is a session's current risk classification. It is only ever
// raised or replaced by an actionable decision; a skipped or failed
// inference never resets it.
type RiskLevel int

const (
	RiskLow RiskLevel = iota + 1
	RiskMedium
	RiskHigh
)

// String returns the display name ("Low", "Medium", "High").
func (r RiskLevel) String() string {
	switch r {
	case RiskMedium:
		return "Medium"
	case RiskHigh:
		return "High"
	default:
		return "Low"
	}
}

// Suppression reasons returned in Admission.Reason.
const (
	ReasonCooldown = "cooldown"
	ReasonBackoff  = "backoff"
)

// Config holds the gate's timing constants. Different deployments tune
// these to trade detection sensitivity against upstream inference cost.
type Config struct {
	Cooldown time.Duration // minimum spacing between dispatches per session
	Backoff  time.Duration // suppression window after an upstream 429
}

// DefaultConfig returns the stock scheduling intervals: one inference
// per session per minute, two minutes of backoff after a rate limit.
func DefaultConfig() Config {
	return Config{
		Cooldown: 60 * time.Second,
		Backoff:  120 * time.Second,
	}
}

// Admission is the outcome of an Allow call.
type Admission struct {
	Allowed bool
	Reason  string    // ReasonCooldown or ReasonBackoff when suppressed
	RetryAt time.Time // when the suppression window ends
}

// sessionState is the per-session record. Guarded by the owning shard's mutex.
type sessionState struct {
	lastDispatchAt time.Time // zero until the first admitted dispatch
	backoffUntil   time.Time // zero unless upstream imposed a backoff
	risk           RiskLevel
}

const shardCount = 32

type shard struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
}

// Gate decides, per session, whether an inference dispatch is currently
// allowed. Telemetry arrives far more often than scoring should run; the
// gate decouples ingestion rate from inference rate.
//
// State is sharded by session id so sessions never contend on a shared
// lock. Within a shard, Allow checks the suppression deadline and records
// the dispatch in the same critical section, so two near-simultaneous
// batches for one session cannot both be admitted.
type Gate struct {
	cfg    Config
	shards [shardCount]shard
}

// New creates a Gate. Zero-value durations in cfg fall back to defaults.
func New(cfg Config) *Gate {
	def := DefaultConfig()
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = def.Backoff
	}
	g := &Gate{cfg: cfg}
	for i := range g.shards {
		g.shards[i].sessions = make(map[string]*sessionState)
	}
	return g
}

// Cooldown returns the configured cooldown interval.
func (g *Gate) Cooldown() time.Duration { return g.cfg.Cooldown }

// BackoffDuration returns the configured backoff window length.
func (g *Gate) BackoffDuration() time.Duration { return g.cfg.Backoff }

func (g *Gate) shardFor(sessionID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(sessionID)) //nolint:errcheck // fnv never errors
	return &g.shards[h.Sum32()%shardCount]
}

// state returns the session record, creating it lazily. Caller must hold
// the shard lock.
func (s *shard) state(sessionID string) *sessionState {
	st, ok := s.sessions[sessionID]
	if !ok {
		st = &sessionState{risk: RiskLow}
		s.sessions[sessionID] = st
	}
	return st
}

// Allow reports whether session sessionID may dispatch an inference call
// at time now. The effective suppression deadline is the later of
// lastDispatchAt+cooldown and any upstream-imposed backoff; admission
// requires now >= that deadline (or no prior record at all).
//
// When admitted, the dispatch is recorded immediately: check and mark
// are one atomic operation with respect to concurrent batches for the
// same session.
func (g *Gate) Allow(sessionID string, now time.Time) Admission {
	sh := g.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st := sh.state(sessionID)

	var deadline time.Time
	reason := ReasonCooldown
	if !st.lastDispatchAt.IsZero() {
		deadline = st.lastDispatchAt.Add(g.cfg.Cooldown)
	}
	if st.backoffUntil.After(deadline) {
		deadline = st.backoffUntil
		reason = ReasonBackoff
	}

	if !deadline.IsZero() && now.Before(deadline) {
		return Admission{Reason: reason, RetryAt: deadline}
	}

	st.lastDispatchAt = now
	return Admission{Allowed: true}
}

// MarkBackoff records an upstream-imposed suppression window, called
// after a rate-limit response. A later deadline replaces the current
// one; an earlier deadline never shortens it.
func (g *Gate) MarkBackoff(sessionID string, until time.Time) {
	sh := g.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st := sh.state(sessionID)
	if until.After(st.backoffUntil) {
		st.backoffUntil = until
	}
}

// Risk returns the session's current risk level (RiskLow for an unknown
// session).
func (g *Gate) Risk(sessionID string) RiskLevel {
	sh := g.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.sessions[sessionID]
	if !ok {
		return RiskLow
	}
	return st.risk
}

// SetRisk records the session's risk level after an actionable decision.
func (g *Gate) SetRisk(sessionID string, risk RiskLevel) {
	sh := g.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.state(sessionID).risk = risk
}
