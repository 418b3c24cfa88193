package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/hyqbyj/taskmem/internal/plan"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	s := r.Begin("find AI trends", plan.DefaultPlan("find AI trends"))

	if err := r.AddStep(s.ID, "open search engine"); err != nil {
		t.Fatalf("AddStep: %v", err)
	}
	if err := r.AddStep(s.ID, "search for AI trends"); err != nil {
		t.Fatalf("AddStep: %v", err)
	}

	req, err := r.Finish(s.ID, "found 3 articles", 5)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(req.Steps) != 2 || req.Result != "found 3 articles" || !req.Success {
		t.Fatalf("unexpected request %+v", req)
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, %d left", r.Len())
	}
}

func TestRegistryUnknownSession(t *testing.T) {
	r := NewRegistry()

	if err := r.AddStep("nope", "step"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("AddStep error = %v", err)
	}
	if _, err := r.Finish("nope", "", 5); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Finish error = %v", err)
	}
}

func TestRegistryFinishTwice(t *testing.T) {
	r := NewRegistry()
	s := r.Begin("find AI trends", plan.DefaultPlan("find AI trends"))

	if _, err := r.Finish(s.ID, "done", 4); err != nil {
		t.Fatalf("first Finish: %v", err)
	}
	if _, err := r.Finish(s.ID, "done", 4); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second Finish error = %v", err)
	}
}

func TestRegistryConcurrentSteps(t *testing.T) {
	r := NewRegistry()
	s := r.Begin("find AI trends", plan.DefaultPlan("find AI trends"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.AddStep(s.ID, "step"); err != nil {
				t.Errorf("AddStep: %v", err)
			}
		}()
	}
	wg.Wait()

	req, err := r.Finish(s.ID, "", 5)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(req.Steps) != 20 {
		t.Fatalf("expected 20 steps, got %d", len(req.Steps))
	}
}
