// Package signals derives human-readable supporting context from a
// telemetry batch. The flags here are heuristic annotations attached to
// alerts and status events; they never drive the suspicion decision,
// which belongs to the scoring engine and the decision mapping alone.
package signals

import (
	"fmt"
	"math"
	"strings"
)

// Known channels of the fixed-width feature vector. The headset samples
// head pose first, then hand and voice activity; the remaining channels
// are model features with no standalone meaning.
const (
	idxHeadYaw = iota
	idxHeadPitch
	idxHeadRoll
	idxHandMovement
	idxVoiceActivity
)

// Bounds are the per-channel levels beyond which a signal is flagged.
type Bounds struct {
	HeadYawDeg    float64
	HeadPitchDeg  float64
	HandMovement  float64
	VoiceActivity float64
}

// DefaultBounds returns the stock heuristic bounds.
func DefaultBounds() Bounds {
	return Bounds{
		HeadYawDeg:    45,
		HeadPitchDeg:  40,
		HandMovement:  1.5,
		VoiceActivity: 0.5,
	}
}

// Summary aggregates the known channels over one batch.
type Summary struct {
	Frames            int
	MaxAbsYawDeg      float64
	MaxAbsPitchDeg    float64
	MaxHandMovement   float64
	MaxVoiceActivity  float64
	MeanVoiceActivity float64
}

// Summarize folds a frame sequence into a Summary. Short rows contribute
// only the channels they carry.
func Summarize(frames [][]float64) Summary {
	s := Summary{Frames: len(frames)}
	if len(frames) == 0 {
		return s
	}

	var voiceSum float64
	var voiceCount int
	for _, frame := range frames {
		if len(frame) > idxHeadYaw {
			s.MaxAbsYawDeg = math.Max(s.MaxAbsYawDeg, math.Abs(frame[idxHeadYaw]))
		}
		if len(frame) > idxHeadPitch {
			s.MaxAbsPitchDeg = math.Max(s.MaxAbsPitchDeg, math.Abs(frame[idxHeadPitch]))
		}
		if len(frame) > idxHandMovement {
			s.MaxHandMovement = math.Max(s.MaxHandMovement, math.Abs(frame[idxHandMovement]))
		}
		if len(frame) > idxVoiceActivity {
			v := frame[idxVoiceActivity]
			s.MaxVoiceActivity = math.Max(s.MaxVoiceActivity, v)
			voiceSum += v
			voiceCount++
		}
	}
	if voiceCount > 0 {
		s.MeanVoiceActivity = voiceSum / float64(voiceCount)
	}
	return s
}

// Flags returns the heuristic annotations for channels beyond bounds.
func (s Summary) Flags(b Bounds) []string {
	var flags []string
	if b.HeadYawDeg > 0 && s.MaxAbsYawDeg > b.HeadYawDeg {
		flags = append(flags, fmt.Sprintf("head yaw %.1f beyond %.0f deg", s.MaxAbsYawDeg, b.HeadYawDeg))
	}
	if b.HeadPitchDeg > 0 && s.MaxAbsPitchDeg > b.HeadPitchDeg {
		flags = append(flags, fmt.Sprintf("head pitch %.1f beyond %.0f deg", s.MaxAbsPitchDeg, b.HeadPitchDeg))
	}
	if b.HandMovement > 0 && s.MaxHandMovement > b.HandMovement {
		flags = append(flags, fmt.Sprintf("hand movement %.2f beyond %.2f", s.MaxHandMovement, b.HandMovement))
	}
	if b.VoiceActivity > 0 && s.MaxVoiceActivity > b.VoiceActivity {
		flags = append(flags, fmt.Sprintf("voice activity %.2f beyond %.2f", s.MaxVoiceActivity, b.VoiceActivity))
	}
	return flags
}

// Describe renders the summary (and any flags) as free-form detail text
// for persisted alerts.
func (s Summary) Describe(flags []string) string {
	base := fmt.Sprintf("frames=%d yaw_max=%.1f pitch_max=%.1f hand_max=%.2f voice_max=%.2f voice_mean=%.2f",
		s.Frames, s.MaxAbsYawDeg, s.MaxAbsPitchDeg, s.MaxHandMovement, s.MaxVoiceActivity, s.MeanVoiceActivity)
	if len(flags) == 0 {
		return base
	}
	return base + "; signals: " + strings.Join(flags, ", ")
}
