// Package pipeline orchestrates one telemetry batch end to end: gate
// admission, upstream inference, decision classification, persistence,
// risk update, and live fan-out.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/examtrace/sentinel/internal/decision"
	"github.com/examtrace/sentinel/internal/fanout"
	"github.com/examtrace/sentinel/internal/gate"
	"github.com/examtrace/sentinel/internal/inference"
	"github.com/examtrace/sentinel/internal/signals"
	"github.com/examtrace/sentinel/internal/storage"
	"github.com/examtrace/sentinel/internal/store"
)

// Batch is one telemetry submission from a proctored device.
type Batch struct {
	SessionID string
	DeviceID  string
	SceneName string
	Frames    [][]float64
}

// Status is the terminal state of a processed batch.
type Status int

const (
	StatusOK Status = iota
	StatusSkipped
	StatusRejected
	StatusBackoffActivated
	StatusInferenceFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusSkipped:
		return "skipped"
	case StatusRejected:
		return "rejected"
	case StatusBackoffActivated:
		return "backoff_activated"
	case StatusInferenceFailed:
		return "inference_failed"
	default:
		return "unknown"
	}
}

// Outcome reports what happened to a batch.
type Outcome struct {
	Status        Status
	Reason        string    // suppression reason, validation detail, or inference error kind
	RetryAt       time.Time // when suppression ends (skipped / backoff_activated)
	Prediction    string
	Confidence    float64
	Severity      decision.Severity
	RiskLevel     gate.RiskLevel
	EventID       string // persisted cheating event id, when one was created
	PersistFailed bool   // actionable decision whose event insert failed
}

// Scorer calls the upstream inference service.
type Scorer interface {
	Score(ctx context.Context, sessionID string, frames [][]float64) (inference.Result, error)
}

// Persister is the durable side of the alert path.
type Persister interface {
	InsertCheatingEvent(ctx context.Context, ev *store.CheatingEvent) error
	UpdateSessionRisk(ctx context.Context, sessionID, riskLevel string) error
}

// Publisher delivers live events to connected proctors.
type Publisher interface {
	PublishStatus(ev fanout.StatusEvent)
	PublishAlert(sessionID string, ev fanout.AlertEvent)
}

// TelemetryLog receives the audit record for every non-rejected batch.
// Write must never block.
type TelemetryLog interface {
	Write(rec *storage.TelemetryRecord)
}

// Config holds the pipeline's decision parameters.
type Config struct {
	SuspicionThreshold float64 // scores at or above are suspicious
	FrameCount         int     // required frames per batch
	FeatureDim         int     // required features per frame
	Bounds             signals.Bounds
}

// DefaultConfig matches the stock capture window: 60 frames of 12
// features, flagged suspicious from 0.3 up.
func DefaultConfig() Config {
	return Config{
		SuspicionThreshold: 0.3,
		FrameCount:         60,
		FeatureDim:         12,
		Bounds:             signals.DefaultBounds(),
	}
}

// Pipeline wires the collaborators together. Stateless apart from the
// gate; safe for concurrent use.
type Pipeline struct {
	cfg       Config
	gate      *gate.Gate
	scorer    Scorer
	persister Persister
	publisher Publisher
	audit     TelemetryLog
	logger    *zap.Logger

	now func() time.Time
}

// New creates a Pipeline. The audit log may be nil when no telemetry
// sink is configured.
func New(cfg Config, g *gate.Gate, scorer Scorer, persister Persister, publisher Publisher, audit TelemetryLog, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		gate:      g,
		scorer:    scorer,
		persister: persister,
		publisher: publisher,
		audit:     audit,
		logger:    logger,
		now:       time.Now,
	}
}

// Process runs one batch through the full decision path.
//
// Ordering on the actionable path is fixed: status heartbeat first (a
// liveness signal, never rolled back), then event insert, then risk
// update, then alert publish. A failed insert suppresses both the risk
// update and the alert; proctors must never see an alert that was not
// durably recorded.
func (p *Pipeline) Process(ctx context.Context, batch Batch) Outcome {
	now := p.now()

	if reason := p.validate(batch); reason != "" {
		p.logger.Warn("telemetry batch rejected",
			zap.String("session_id", batch.SessionID),
			zap.String("reason", reason),
		)
		return Outcome{Status: StatusRejected, Reason: reason}
	}

	risk := p.gate.Risk(batch.SessionID)

	adm := p.gate.Allow(batch.SessionID, now)
	if !adm.Allowed {
		out := Outcome{
			Status:    StatusSkipped,
			Reason:    adm.Reason,
			RetryAt:   adm.RetryAt,
			RiskLevel: risk,
		}
		p.publishStatus(batch, out, nil, now)
		p.writeAudit(batch, out, nil, 0, now)
		return out
	}

	start := time.Now()
	res, err := p.scorer.Score(ctx, batch.SessionID, batch.Frames)
	latency := time.Since(start)

	if err != nil {
		return p.handleScoreError(batch, err, risk, latency, now)
	}

	dec := decision.Decide(res.Score, res.Label, p.cfg.SuspicionThreshold)
	summary := signals.Summarize(batch.Frames)
	flags := summary.Flags(p.cfg.Bounds)

	out := Outcome{
		Status:     StatusOK,
		Prediction: dec.Prediction,
		Confidence: dec.Confidence,
		Severity:   dec.Severity,
		RiskLevel:  risk,
	}

	// Heartbeat goes out before the persistence branch and is never
	// rolled back; it carries the pre-decision risk level.
	p.publishStatusAfterDecision(batch, out, flags, now)

	if dec.Actionable() {
		out = p.raiseAlert(ctx, batch, dec, summary, flags, out)
	}

	p.writeAudit(batch, out, flags, latency, now)
	return out
}

// validate enforces the batch contract before any state changes.
func (p *Pipeline) validate(batch Batch) string {
	if strings.TrimSpace(batch.SessionID) == "" {
		return "missing session_id"
	}
	if len(batch.Frames) != p.cfg.FrameCount {
		return fmt.Sprintf("expected %d frames, got %d", p.cfg.FrameCount, len(batch.Frames))
	}
	for i, frame := range batch.Frames {
		if len(frame) != p.cfg.FeatureDim {
			return fmt.Sprintf("frame %d: expected %d features, got %d", i, p.cfg.FeatureDim, len(frame))
		}
		for j, v := range frame {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Sprintf("frame %d feature %d: non-finite value", i, j)
			}
		}
	}
	return ""
}

func (p *Pipeline) handleScoreError(batch Batch, err error, risk gate.RiskLevel, latency time.Duration, now time.Time) Outcome {
	var infErr *inference.Error
	if errors.As(err, &infErr) && infErr.Kind == inference.KindRateLimited {
		until := now.Add(p.gate.BackoffDuration())
		p.gate.MarkBackoff(batch.SessionID, until)
		p.logger.Warn("upstream rate limited, backing off",
			zap.String("session_id", batch.SessionID),
			zap.Time("retry_at", until),
		)
		out := Outcome{
			Status:    StatusBackoffActivated,
			Reason:    inference.KindRateLimited.String(),
			RetryAt:   until,
			RiskLevel: risk,
		}
		p.publishStatus(batch, out, nil, now)
		p.writeAudit(batch, out, nil, latency, now)
		return out
	}

	reason := "inference error"
	if infErr != nil {
		reason = infErr.Kind.String()
	}
	p.logger.Error("inference call failed",
		zap.String("session_id", batch.SessionID),
		zap.String("kind", reason),
		zap.Error(err),
	)
	out := Outcome{
		Status:    StatusInferenceFailed,
		Reason:    reason,
		RiskLevel: risk,
	}
	p.publishStatus(batch, out, nil, now)
	p.writeAudit(batch, out, nil, latency, now)
	return out
}

// raiseAlert persists the cheating event and, only on success, updates
// the session risk and publishes the alert.
func (p *Pipeline) raiseAlert(ctx context.Context, batch Batch, dec decision.Decision, summary signals.Summary, flags []string, out Outcome) Outcome {
	ev := &store.CheatingEvent{
		SessionID:       batch.SessionID,
		EventType:       dec.Prediction,
		Severity:        dec.Severity.String(),
		ConfidenceLevel: dec.Confidence,
		Details:         summary.Describe(flags),
	}
	if err := p.persister.InsertCheatingEvent(ctx, ev); err != nil {
		p.logger.Error("cheating event insert failed, suppressing risk update and alert",
			zap.String("session_id", batch.SessionID),
			zap.String("event_type", ev.EventType),
			zap.Error(err),
		)
		out.PersistFailed = true
		return out
	}
	out.EventID = ev.ID

	newRisk := riskFromSeverity(dec.Severity)
	p.gate.SetRisk(batch.SessionID, newRisk)
	out.RiskLevel = newRisk
	if err := p.persister.UpdateSessionRisk(ctx, batch.SessionID, strings.ToLower(newRisk.String())); err != nil {
		// The event is already durable; the alert still goes out. The
		// session row catches up on the next actionable decision.
		p.logger.Error("session risk update failed",
			zap.String("session_id", batch.SessionID),
			zap.String("risk_level", newRisk.String()),
			zap.Error(err),
		)
	}

	p.publisher.PublishAlert(batch.SessionID, fanout.AlertEvent{
		ID:              ev.ID,
		SessionID:       ev.SessionID,
		EventType:       ev.EventType,
		Severity:        ev.Severity,
		ConfidenceLevel: ev.ConfidenceLevel,
		Details:         ev.Details,
		DetectedAt:      ev.DetectedAt,
	})

	p.logger.Info("alert raised",
		zap.String("session_id", batch.SessionID),
		zap.String("event_id", ev.ID),
		zap.String("event_type", ev.EventType),
		zap.String("severity", ev.Severity),
		zap.Float64("confidence", ev.ConfidenceLevel),
	)
	return out
}

func riskFromSeverity(s decision.Severity) gate.RiskLevel {
	switch s {
	case decision.SeverityHigh:
		return gate.RiskHigh
	case decision.SeverityMedium:
		return gate.RiskMedium
	default:
		return gate.RiskLow
	}
}

// publishStatus emits the liveness heartbeat for outcomes with no
// decision attached (skipped, backoff, inference failure).
func (p *Pipeline) publishStatus(batch Batch, out Outcome, flags []string, now time.Time) {
	p.publisher.PublishStatus(fanout.StatusEvent{
		SessionID: batch.SessionID,
		DeviceID:  batch.DeviceID,
		SceneName: batch.SceneName,
		Outcome:   out.Status.String(),
		RiskLevel: out.RiskLevel.String(),
		Signals:   flags,
		Timestamp: now,
	})
}

// publishStatusAfterDecision carries the decision fields on the heartbeat.
func (p *Pipeline) publishStatusAfterDecision(batch Batch, out Outcome, flags []string, now time.Time) {
	p.publisher.PublishStatus(fanout.StatusEvent{
		SessionID:  batch.SessionID,
		DeviceID:   batch.DeviceID,
		SceneName:  batch.SceneName,
		Outcome:    out.Status.String(),
		Prediction: out.Prediction,
		Confidence: out.Confidence,
		Severity:   out.Severity.String(),
		RiskLevel:  out.RiskLevel.String(),
		Signals:    flags,
		Timestamp:  now,
	})
}

// writeAudit records the batch in the telemetry audit trail.
func (p *Pipeline) writeAudit(batch Batch, out Outcome, flags []string, latency time.Duration, now time.Time) {
	if p.audit == nil {
		return
	}
	summary := signals.Summarize(batch.Frames)
	rec := &storage.TelemetryRecord{
		RequestID:          uuid.NewString(),
		SessionID:          batch.SessionID,
		DeviceID:           batch.DeviceID,
		SceneName:          batch.SceneName,
		Timestamp:          now,
		Outcome:            out.Status.String(),
		Reason:             out.Reason,
		Prediction:         out.Prediction,
		Confidence:         float32(out.Confidence),
		RiskLevel:          out.RiskLevel.String(),
		FrameCount:         uint32(len(batch.Frames)),
		Signals:            flags,
		MaxAbsYawDeg:       float32(summary.MaxAbsYawDeg),
		MaxAbsPitchDeg:     float32(summary.MaxAbsPitchDeg),
		MaxHandMovement:    float32(summary.MaxHandMovement),
		MaxVoiceActivity:   float32(summary.MaxVoiceActivity),
		InferenceLatencyMs: float32(latency.Seconds() * 1000),
		AlertID:            out.EventID,
		PersistFailed:      out.PersistFailed,
	}
	if out.Status == StatusOK {
		rec.Severity = out.Severity.String()
	}
	p.audit.Write(rec)
}
