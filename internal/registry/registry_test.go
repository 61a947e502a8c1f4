package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRegistry_RegisterGet(t *testing.T) {
	r := NewRegistry()

	cap := NewFuncCapability("spam-classify", func(ctx context.Context, req *Request) (*Result, error) {
		return NewResult(map[string]any{"verdict": "spam"}), nil
	})
	r.Register(cap)

	got, err := r.Get("spam-classify")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name() != "spam-classify" {
		t.Errorf("expected spam-classify, got %s", got.Name())
	}

	if _, err := r.Get("unknown"); !errors.Is(err, ErrCapabilityNotFound) {
		t.Errorf("expected ErrCapabilityNotFound, got %v", err)
	}

	if !r.Has("spam-classify") || r.Has("unknown") {
		t.Error("Has returned wrong answer")
	}
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	noop := func(ctx context.Context, req *Request) (*Result, error) { return NewResult(nil), nil }

	r.Register(NewFuncCapability("b", noop))
	r.Register(NewFuncCapability("a", noop))

	names := r.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("expected sorted [a b], got %v", names)
	}
}

func TestPermanent(t *testing.T) {
	base := errors.New("bad input")
	err := Permanent(base)

	if !IsPermanent(err) {
		t.Error("expected permanent error")
	}
	if !errors.Is(err, base) {
		t.Error("expected Unwrap to reach base error")
	}
	if IsPermanent(base) {
		t.Error("unwrapped error must not be permanent")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) must be nil")
	}
}

func TestHTTPCapability_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"verdict": "spam", "confidence": 0.97}`)
	}))
	defer srv.Close()

	cap := NewHTTPCapability("spam-classify", srv.URL, nil)
	res, err := cap.Invoke(context.Background(), &Request{
		StepID:  "classify",
		Payload: map[string]any{"text": "buy now"},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Outputs["verdict"] != "spam" {
		t.Errorf("expected verdict spam, got %v", res.Outputs["verdict"])
	}
}

func TestHTTPCapability_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	cap := NewHTTPCapability("spam-classify", srv.URL, nil)
	_, err := cap.Invoke(context.Background(), &Request{StepID: "classify"})
	if !IsPermanent(err) {
		t.Errorf("expected permanent error for 4xx, got %v", err)
	}
}

func TestHTTPCapability_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cap := NewHTTPCapability("spam-classify", srv.URL, nil)
	_, err := cap.Invoke(context.Background(), &Request{StepID: "classify"})
	if err == nil {
		t.Fatal("expected error for 5xx")
	}
	if IsPermanent(err) {
		t.Error("5xx must be transient, got permanent")
	}
}

func TestHTTPCapability_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	cap := NewHTTPCapability("slow", srv.URL, nil)
	_, err := cap.Invoke(context.Background(), &Request{
		StepID:  "slow-step",
		Timeout: 20 * time.Millisecond,
	})
	if !errors.Is(err, ErrInvocationTimeout) {
		t.Errorf("expected ErrInvocationTimeout, got %v", err)
	}
}
