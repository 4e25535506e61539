package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testFrames() [][]float64 {
	frames := make([][]float64, 3)
	for i := range frames {
		frames[i] = []float64{0.1, 0.2, 0.3}
	}
	return frames
}

func newTestClient(url string, format PayloadFormat) *Client {
	return NewClient(Config{
		BaseURL: url,
		Timeout: 2 * time.Second,
		Format:  format,
		Logger:  zap.NewNop(),
	})
}

func TestScore_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" {
			t.Errorf("path = %q, want /predict", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		w.Write([]byte(`{"score": 0.82, "label": "looking around"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	result, err := newTestClient(srv.URL, FormatSequence).Score(context.Background(), "s1", testFrames())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Score != 0.82 {
		t.Errorf("score = %v, want 0.82", result.Score)
	}
	if result.Label != "looking around" {
		t.Errorf("label = %q, want %q", result.Label, "looking around")
	}
}

func TestScore_DefaultsForMissingFields(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantScore float64
		wantLabel string
	}{
		{"empty object", `{}`, 0, "normal"},
		{"score only", `{"score": 0.4}`, 0.4, "normal"},
		{"label only", `{"label": "whispering"}`, 0, "whispering"},
		{"empty label", `{"score": 0.2, "label": ""}`, 0.2, "normal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte(tt.body)) //nolint:errcheck
			}))
			defer srv.Close()

			result, err := newTestClient(srv.URL, FormatSequence).Score(context.Background(), "s1", testFrames())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Score != tt.wantScore {
				t.Errorf("score = %v, want %v", result.Score, tt.wantScore)
			}
			if result.Label != tt.wantLabel {
				t.Errorf("label = %q, want %q", result.Label, tt.wantLabel)
			}
		})
	}
}

func TestScore_PayloadShapes(t *testing.T) {
	var got map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"score": 0}`)) //nolint:errcheck
	}))
	defer srv.Close()

	t.Run("sequence", func(t *testing.T) {
		got = nil
		if _, err := newTestClient(srv.URL, FormatSequence).Score(context.Background(), "s1", testFrames()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := got["sequence"]; !ok {
			t.Errorf("request body missing sequence key: %v", got)
		}
		if _, ok := got["session_id"]; ok {
			t.Error("sequence format must not carry session_id")
		}
	})

	t.Run("telemetry", func(t *testing.T) {
		got = nil
		if _, err := newTestClient(srv.URL, FormatTelemetry).Score(context.Background(), "s1", testFrames()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := got["telemetry"]; !ok {
			t.Errorf("request body missing telemetry key: %v", got)
		}
		var sid string
		if err := json.Unmarshal(got["session_id"], &sid); err != nil || sid != "s1" {
			t.Errorf("session_id = %q (err %v), want s1", sid, err)
		}
	})
}

func TestScore_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"detail": "throttled"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, FormatSequence).Score(context.Background(), "s1", testFrames())
	var infErr *Error
	if !errors.As(err, &infErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if infErr.Kind != KindRateLimited {
		t.Errorf("kind = %v, want KindRateLimited", infErr.Kind)
	}
	if infErr.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", infErr.Status)
	}
}

func TestScore_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("model crashed")) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, FormatSequence).Score(context.Background(), "s1", testFrames())
	var infErr *Error
	if !errors.As(err, &infErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if infErr.Kind != KindUpstream {
		t.Errorf("kind = %v, want KindUpstream", infErr.Kind)
	}
	if infErr.Status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", infErr.Status)
	}
	if !strings.Contains(infErr.Body, "model crashed") {
		t.Errorf("body = %q, want captured upstream body", infErr.Body)
	}
}

func TestScore_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	_, err := newTestClient(srv.URL, FormatSequence).Score(context.Background(), "s1", testFrames())
	var infErr *Error
	if !errors.As(err, &infErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if infErr.Kind != KindUnreachable {
		t.Errorf("kind = %v, want KindUnreachable", infErr.Kind)
	}
}

func TestScore_Cancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := newTestClient(srv.URL, FormatSequence).Score(ctx, "s1", testFrames())
	var infErr *Error
	if !errors.As(err, &infErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if infErr.Kind != KindCancelled {
		t.Errorf("kind = %v, want KindCancelled", infErr.Kind)
	}
}

func TestScore_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json")) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, FormatSequence).Score(context.Background(), "s1", testFrames())
	var infErr *Error
	if !errors.As(err, &infErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if infErr.Kind != KindUpstream {
		t.Errorf("kind = %v, want KindUpstream for malformed body", infErr.Kind)
	}
}

func TestParseFormat(t *testing.T) {
	if got := ParseFormat("telemetry"); got != FormatTelemetry {
		t.Errorf("ParseFormat(telemetry) = %v", got)
	}
	if got := ParseFormat("sequence"); got != FormatSequence {
		t.Errorf("ParseFormat(sequence) = %v", got)
	}
	if got := ParseFormat("bogus"); got != FormatSequence {
		t.Errorf("ParseFormat(bogus) = %v, want sequence default", got)
	}
}
