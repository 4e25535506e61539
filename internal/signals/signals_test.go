package signals

import (
	"strings"
	"testing"
)

// frame builds a 12-wide feature vector with the named channels set.
func frame(yaw, pitch, roll, hand, voice float64) []float64 {
	f := make([]float64, 12)
	f[0], f[1], f[2], f[3], f[4] = yaw, pitch, roll, hand, voice
	return f
}

func TestSummarize(t *testing.T) {
	frames := [][]float64{
		frame(10, 5, 0, 0.2, 0.1),
		frame(-52, 12, 0, 0.4, 0.3),
		frame(30, -44, 0, 1.8, 0.8),
	}

	s := Summarize(frames)
	if s.Frames != 3 {
		t.Errorf("frames = %d, want 3", s.Frames)
	}
	if s.MaxAbsYawDeg != 52 {
		t.Errorf("yaw max = %v, want 52 (absolute value)", s.MaxAbsYawDeg)
	}
	if s.MaxAbsPitchDeg != 44 {
		t.Errorf("pitch max = %v, want 44", s.MaxAbsPitchDeg)
	}
	if s.MaxHandMovement != 1.8 {
		t.Errorf("hand max = %v, want 1.8", s.MaxHandMovement)
	}
	if s.MaxVoiceActivity != 0.8 {
		t.Errorf("voice max = %v, want 0.8", s.MaxVoiceActivity)
	}
	if want := (0.1 + 0.3 + 0.8) / 3; s.MeanVoiceActivity < want-1e-9 || s.MeanVoiceActivity > want+1e-9 {
		t.Errorf("voice mean = %v, want %v", s.MeanVoiceActivity, want)
	}
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	if s.Frames != 0 || s.MaxAbsYawDeg != 0 || s.MeanVoiceActivity != 0 {
		t.Errorf("empty batch summary not zero: %+v", s)
	}
}

func TestFlags(t *testing.T) {
	b := DefaultBounds()

	tests := []struct {
		name      string
		summary   Summary
		wantCount int
		wantFrag  string
	}{
		{"all quiet", Summary{MaxAbsYawDeg: 10, MaxAbsPitchDeg: 10}, 0, ""},
		{"yaw beyond bound", Summary{MaxAbsYawDeg: 50}, 1, "head yaw"},
		{"pitch beyond bound", Summary{MaxAbsPitchDeg: 41}, 1, "head pitch"},
		{"hand beyond bound", Summary{MaxHandMovement: 2.0}, 1, "hand movement"},
		{"voice beyond bound", Summary{MaxVoiceActivity: 0.6}, 1, "voice activity"},
		{"at bound is quiet", Summary{MaxAbsYawDeg: 45, MaxVoiceActivity: 0.5}, 0, ""},
		{"multiple", Summary{MaxAbsYawDeg: 90, MaxVoiceActivity: 0.9}, 2, "voice activity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := tt.summary.Flags(b)
			if len(flags) != tt.wantCount {
				t.Fatalf("flags = %v, want %d entries", flags, tt.wantCount)
			}
			if tt.wantFrag != "" && !strings.Contains(strings.Join(flags, "; "), tt.wantFrag) {
				t.Errorf("flags %v missing %q", flags, tt.wantFrag)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	s := Summarize([][]float64{frame(50, 0, 0, 0, 0)})
	flags := s.Flags(DefaultBounds())

	desc := s.Describe(flags)
	if !strings.Contains(desc, "frames=1") {
		t.Errorf("describe missing frame count: %q", desc)
	}
	if !strings.Contains(desc, "signals: head yaw") {
		t.Errorf("describe missing flags: %q", desc)
	}

	quiet := Summarize(nil).Describe(nil)
	if strings.Contains(quiet, "signals:") {
		t.Errorf("quiet describe should have no signals section: %q", quiet)
	}
}
