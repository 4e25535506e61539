package decision

import "testing"

func TestDecide_Bands(t *testing.T) {
	tests := []struct {
		name           string
		score          float64
		label          string
		threshold      float64
		wantPrediction string
		wantSeverity   Severity
	}{
		{"below threshold", 0.29, "", 0.3, PredictionNormal, SeverityLow},
		{"at threshold is suspicious", 0.3, "", 0.3, "cheating behavior", SeverityLow},
		{"below medium cutoff", 0.44, "", 0.3, "cheating behavior", SeverityLow},
		{"at medium cutoff", 0.45, "", 0.3, "cheating behavior", SeverityMedium},
		{"below high cutoff", 0.69, "", 0.3, "cheating behavior", SeverityMedium},
		{"at high cutoff", 0.7, "", 0.3, "cheating behavior", SeverityHigh},
		{"maximum score", 1.0, "", 0.3, "cheating behavior", SeverityHigh},
		{"zero score", 0, "", 0.3, PredictionNormal, SeverityLow},
		{"normal label below threshold", 0.1, "normal", 0.3, PredictionNormal, SeverityLow},
		{"suspicious label ignored below threshold", 0.2, "looking around", 0.3, PredictionNormal, SeverityLow},
		{"upstream label used when suspicious", 0.8, "looking around", 0.3, "looking around", SeverityHigh},
		{"normal label falls back to tag", 0.8, "normal", 0.3, "cheating behavior", SeverityHigh},
		{"blank label falls back to tag", 0.8, "  ", 0.3, "cheating behavior", SeverityHigh},
		{"higher threshold", 0.5, "", 0.6, PredictionNormal, SeverityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.score, tt.label, tt.threshold)
			if d.Prediction != tt.wantPrediction {
				t.Errorf("prediction = %q, want %q", d.Prediction, tt.wantPrediction)
			}
			if d.Severity != tt.wantSeverity {
				t.Errorf("severity = %v, want %v", d.Severity, tt.wantSeverity)
			}
			if d.Confidence != tt.score {
				t.Errorf("confidence = %v, want raw score %v", d.Confidence, tt.score)
			}
		})
	}
}

func TestDecide_Deterministic(t *testing.T) {
	first := Decide(0.73, "looking around", 0.3)
	for i := 0; i < 10; i++ {
		if got := Decide(0.73, "looking around", 0.3); got != first {
			t.Fatalf("run %d: %+v differs from first run %+v", i, got, first)
		}
	}
}

func TestDecision_Actionable(t *testing.T) {
	if Decide(0.1, "", 0.3).Actionable() {
		t.Error("normal decision must not be actionable")
	}
	if !Decide(0.5, "", 0.3).Actionable() {
		t.Error("suspicious decision must be actionable")
	}
}

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityLow, "low"},
		{SeverityMedium, "medium"},
		{SeverityHigh, "high"},
	}
	for _, tt := range tests {
		if got := tt.severity.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.severity, got, tt.want)
		}
	}
}
