package scoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const okBody = `{"choices":[{"message":{"content":"{\"overall_score\": 5}"}}]}`

func newTestClient(url string, sleeps *[]time.Duration) *Client {
	return &Client{
		BaseURL: url,
		Model:   "test-model",
		APIKey:  "test-key",
		Logger:  zerolog.Nop(),
		Sleep: func(d time.Duration) {
			*sleeps = append(*sleeps, d)
		},
	}
}

func TestScoreSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected auth header: %s", got)
		}
		w.Write([]byte(okBody))
	}))
	defer srv.Close()

	var sleeps []time.Duration
	raw, err := newTestClient(srv.URL, &sleeps).Score(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw != `{"overall_score": 5}` {
		t.Fatalf("unexpected content: %s", raw)
	}
	if len(sleeps) != 0 {
		t.Fatalf("no backoff expected on first success")
	}
}

func TestScoreRateLimitedBackoffSchedule(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts <= 3 {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(okBody))
	}))
	defer srv.Close()

	var sleeps []time.Duration
	raw, err := newTestClient(srv.URL, &sleeps).Score(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("expected success on 4th attempt, got %v", err)
	}
	if raw == "" {
		t.Fatalf("expected response content")
	}

	want := []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second}
	if len(sleeps) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), sleeps)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Fatalf("sleep %d: expected %v, got %v", i, want[i], sleeps[i])
		}
	}
}

func TestScoreRateLimitExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	var sleeps []time.Duration
	_, err := newTestClient(srv.URL, &sleeps).Score(context.Background(), "prompt")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	// 4 backoffs between 5 attempts.
	if len(sleeps) != 4 {
		t.Fatalf("expected 4 sleeps, got %v", sleeps)
	}
}

func TestScoreTransientFailureLinearBackoff(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(okBody))
	}))
	defer srv.Close()

	var sleeps []time.Duration
	_, err := newTestClient(srv.URL, &sleeps).Score(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}

	want := []time.Duration{10 * time.Second, 20 * time.Second}
	if len(sleeps) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), sleeps)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Fatalf("sleep %d: expected %v, got %v", i, want[i], sleeps[i])
		}
	}
}

func TestScoreGarbledBodyRetriedThenRecovers(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Write([]byte("not json at all"))
			return
		}
		w.Write([]byte(okBody))
	}))
	defer srv.Close()

	var sleeps []time.Duration
	raw, err := newTestClient(srv.URL, &sleeps).Score(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("expected recovery after garbled body, got %v", err)
	}
	if raw != `{"overall_score": 5}` {
		t.Fatalf("unexpected content: %s", raw)
	}
	if len(sleeps) != 1 || sleeps[0] != 10*time.Second {
		t.Fatalf("expected one linear backoff sleep, got %v", sleeps)
	}
}

func TestScoreEmptyChoicesExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	var sleeps []time.Duration
	_, err := newTestClient(srv.URL, &sleeps).Score(context.Background(), "prompt")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if len(sleeps) != 4 {
		t.Fatalf("expected 4 sleeps between 5 attempts, got %v", sleeps)
	}
}

func TestScoreUnavailableAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var sleeps []time.Duration
	_, err := newTestClient(srv.URL, &sleeps).Score(context.Background(), "prompt")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestScoreRequiresConfiguration(t *testing.T) {
	var sleeps []time.Duration
	c := newTestClient("", &sleeps)
	if _, err := c.Score(context.Background(), "prompt"); err == nil {
		t.Fatalf("expected error for missing base URL")
	}

	c = newTestClient("http://localhost:1", &sleeps)
	c.Model = ""
	if _, err := c.Score(context.Background(), "prompt"); err == nil {
		t.Fatalf("expected error for missing model")
	}
}
