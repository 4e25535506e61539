package gate

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestAllow_FirstBatchAdmitted(t *testing.T) {
	g := New(Config{Cooldown: 15 * time.Second, Backoff: 60 * time.Second})

	adm := g.Allow("s1", t0)
	if !adm.Allowed {
		t.Fatalf("expected first batch to be admitted, got %+v", adm)
	}
}

func TestAllow_SecondBatchWithinCooldownSuppressed(t *testing.T) {
	g := New(Config{Cooldown: 15 * time.Second, Backoff: 60 * time.Second})

	if adm := g.Allow("s1", t0); !adm.Allowed {
		t.Fatalf("first batch suppressed: %+v", adm)
	}

	adm := g.Allow("s1", t0.Add(2*time.Second))
	if adm.Allowed {
		t.Fatal("expected suppression within cooldown")
	}
	if adm.Reason != ReasonCooldown {
		t.Errorf("reason = %q, want %q", adm.Reason, ReasonCooldown)
	}
	if want := t0.Add(15 * time.Second); !adm.RetryAt.Equal(want) {
		t.Errorf("retryAt = %v, want %v", adm.RetryAt, want)
	}
}

func TestAllow_AdmittedExactlyAtDeadline(t *testing.T) {
	g := New(Config{Cooldown: 15 * time.Second, Backoff: 60 * time.Second})

	g.Allow("s1", t0)
	if adm := g.Allow("s1", t0.Add(15*time.Second)); !adm.Allowed {
		t.Errorf("expected admission exactly at cooldown expiry, got %+v", adm)
	}
}

func TestMarkBackoff_BoundaryInclusive(t *testing.T) {
	g := New(Config{Cooldown: 15 * time.Second, Backoff: 60 * time.Second})

	until := t0.Add(60 * time.Second)
	g.MarkBackoff("s1", until)

	if adm := g.Allow("s1", until.Add(-time.Millisecond)); adm.Allowed {
		t.Error("expected suppression just before backoff expiry")
	} else if adm.Reason != ReasonBackoff {
		t.Errorf("reason = %q, want %q", adm.Reason, ReasonBackoff)
	}

	if adm := g.Allow("s1", until); !adm.Allowed {
		t.Errorf("expected admission at backoff expiry, got %+v", adm)
	}
}

func TestMarkBackoff_DominatesCooldown(t *testing.T) {
	g := New(Config{Cooldown: 15 * time.Second, Backoff: 60 * time.Second})

	g.Allow("s1", t0) // cooldown deadline t0+15s
	g.MarkBackoff("s1", t0.Add(60*time.Second))

	adm := g.Allow("s1", t0.Add(30*time.Second))
	if adm.Allowed {
		t.Fatal("expected backoff to extend suppression past the cooldown")
	}
	if adm.Reason != ReasonBackoff {
		t.Errorf("reason = %q, want %q", adm.Reason, ReasonBackoff)
	}
	if want := t0.Add(60 * time.Second); !adm.RetryAt.Equal(want) {
		t.Errorf("retryAt = %v, want %v", adm.RetryAt, want)
	}
}

func TestMarkBackoff_NeverShortens(t *testing.T) {
	g := New(Config{Cooldown: 15 * time.Second, Backoff: 60 * time.Second})

	g.MarkBackoff("s1", t0.Add(120*time.Second))
	g.MarkBackoff("s1", t0.Add(30*time.Second)) // must not shorten

	adm := g.Allow("s1", t0.Add(60*time.Second))
	if adm.Allowed {
		t.Fatal("expected the longer backoff window to stand")
	}
	if want := t0.Add(120 * time.Second); !adm.RetryAt.Equal(want) {
		t.Errorf("retryAt = %v, want %v", adm.RetryAt, want)
	}
}

func TestAllow_SessionsIndependent(t *testing.T) {
	g := New(Config{Cooldown: 15 * time.Second, Backoff: 60 * time.Second})

	g.Allow("s1", t0)
	if adm := g.Allow("s2", t0.Add(time.Second)); !adm.Allowed {
		t.Errorf("s2 should be unaffected by s1's cooldown, got %+v", adm)
	}
}

func TestAllow_ConcurrentBurstAdmitsOne(t *testing.T) {
	g := New(Config{Cooldown: 15 * time.Second, Backoff: 60 * time.Second})

	const n = 64
	var wg sync.WaitGroup
	admitted := make(chan struct{}, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Allow("s1", t0).Allowed {
				admitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for range admitted {
		count++
	}
	if count != 1 {
		t.Errorf("admitted %d concurrent batches for one session, want exactly 1", count)
	}
}

func TestAllow_ManySessionsConcurrently(t *testing.T) {
	g := New(Config{Cooldown: 15 * time.Second, Backoff: 60 * time.Second})

	const n = 200
	var wg sync.WaitGroup
	results := make([]Admission, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = g.Allow(fmt.Sprintf("session-%d", i), t0)
		}(i)
	}
	wg.Wait()

	for i, adm := range results {
		if !adm.Allowed {
			t.Errorf("session-%d: first batch suppressed: %+v", i, adm)
		}
	}
}

func TestRisk_DefaultsLowAndPersists(t *testing.T) {
	g := New(Config{})

	if got := g.Risk("s1"); got != RiskLow {
		t.Errorf("unknown session risk = %v, want RiskLow", got)
	}

	g.SetRisk("s1", RiskHigh)
	if got := g.Risk("s1"); got != RiskHigh {
		t.Errorf("risk = %v, want RiskHigh", got)
	}

	// A suppressed batch must not touch the risk level.
	g.Allow("s1", t0)
	g.Allow("s1", t0.Add(time.Second))
	if got := g.Risk("s1"); got != RiskHigh {
		t.Errorf("risk after suppressed batch = %v, want RiskHigh", got)
	}
}

func TestRiskLevel_String(t *testing.T) {
	tests := []struct {
		level RiskLevel
		want  string
	}{
		{RiskLow, "Low"},
		{RiskMedium, "Medium"},
		{RiskHigh, "High"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}
