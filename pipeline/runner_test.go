package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestRunner(t *testing.T) (*Registry, *Runner) {
	t.Helper()
	reg := NewRegistry(zerolog.Nop())
	return reg, NewRunner(reg, zerolog.Nop())
}

func appendHandler(id string) Handler {
	return HandlerFunc(func(ctx context.Context, bag Bag, next Next) error {
		trail, _ := bag["trail"].([]string)
		bag["trail"] = append(trail, id+":before")
		if err := next(ctx, bag); err != nil {
			return err
		}
		trail, _ = bag["trail"].([]string)
		bag["trail"] = append(trail, id+":after")
		return nil
	})
}

func trail(bag Bag) []string {
	t, _ := bag["trail"].([]string)
	return t
}

func TestRunner_OnionOrdering(t *testing.T) {
	reg, runner := newTestRunner(t)
	reg.Define("p", "", true)
	reg.Register("p", appendHandler("outer"), 10, nil)
	reg.Register("p", appendHandler("inner"), 0, nil)

	bag := Bag{}
	err := runner.Run(context.Background(), "p", bag, func(ctx context.Context, bag Bag) error {
		bag["trail"] = append(trail(bag), "dest")
		return nil
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	want := []string{"outer:before", "inner:before", "dest", "inner:after", "outer:after"}
	got := trail(bag)
	if len(got) != len(want) {
		t.Fatalf("expected trail %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected trail %v, got %v", want, got)
		}
	}
}

func TestRunner_ShortCircuit(t *testing.T) {
	reg, runner := newTestRunner(t)
	reg.Define("p", "", true)

	// Declines to call next: everything downstream, including the
	// destination, is skipped.
	reg.Register("p", HandlerFunc(func(ctx context.Context, bag Bag, next Next) error {
		bag["stopped"] = true
		return nil
	}), 10, nil)
	reg.Register("p", appendHandler("inner"), 0, nil)

	bag := Bag{}
	destRan := false
	err := runner.Run(context.Background(), "p", bag, func(ctx context.Context, bag Bag) error {
		destRan = true
		return nil
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !bag.Bool("stopped") {
		t.Error("short-circuiting handler should have run")
	}
	if destRan {
		t.Error("destination must not run when a handler short-circuits")
	}
	if len(trail(bag)) != 0 {
		t.Errorf("downstream handler must not run, trail: %v", trail(bag))
	}
}

func TestRunner_HandlerError(t *testing.T) {
	reg, runner := newTestRunner(t)
	reg.Define("p", "", true)

	boom := errors.New("boom")
	reg.Register("p", HandlerFunc(func(ctx context.Context, bag Bag, next Next) error {
		return boom
	}), 0, nil)

	err := runner.Run(context.Background(), "p", Bag{}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected handler error to propagate unmodified, got %v", err)
	}
}

func TestRunner_Predicate(t *testing.T) {
	reg, runner := newTestRunner(t)
	reg.Define("p", "", true)

	reg.RegisterWhen("p", appendHandler("gated"), func(bag Bag) (bool, error) {
		return bag.Bool("go"), nil
	}, 0)

	// Predicate false: handler skipped, destination still runs.
	bag := Bag{}
	destRan := false
	err := runner.Run(context.Background(), "p", bag, func(ctx context.Context, bag Bag) error {
		destRan = true
		return nil
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(trail(bag)) != 0 {
		t.Errorf("gated handler must not run, trail: %v", trail(bag))
	}
	if !destRan {
		t.Error("destination should run when a predicate skips a handler")
	}

	// Predicate true: handler runs.
	bag = Bag{"go": true}
	if err := runner.Run(context.Background(), "p", bag, nil); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(trail(bag)) != 2 {
		t.Errorf("gated handler should have run, trail: %v", trail(bag))
	}
}

func TestRunner_PredicateSeesUpstreamWrites(t *testing.T) {
	reg, runner := newTestRunner(t)
	reg.Define("p", "", true)

	// An earlier handler flips the switch the later predicate reads.
	reg.Register("p", HandlerFunc(func(ctx context.Context, bag Bag, next Next) error {
		bag["go"] = true
		return next(ctx, bag)
	}), 10, nil)
	reg.RegisterWhen("p", appendHandler("gated"), func(bag Bag) (bool, error) {
		return bag.Bool("go"), nil
	}, 0)

	bag := Bag{}
	if err := runner.Run(context.Background(), "p", bag, nil); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(trail(bag)) != 2 {
		t.Errorf("predicate should see upstream bag writes, trail: %v", trail(bag))
	}
}

func TestRunner_PredicateError(t *testing.T) {
	reg, runner := newTestRunner(t)
	reg.Define("p", "", true)

	boom := errors.New("predicate boom")
	reg.RegisterWhen("p", appendHandler("gated"), func(bag Bag) (bool, error) {
		return false, boom
	}, 0)

	err := runner.Run(context.Background(), "p", Bag{}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("predicate error must fail the run, got %v", err)
	}
	if !strings.Contains(err.Error(), "predicate failed") {
		t.Errorf("expected predicate failure context in error, got %v", err)
	}
}

func TestRunner_RunIgnoresActiveState(t *testing.T) {
	reg, runner := newTestRunner(t)
	reg.Define("p", "", false)
	reg.Register("p", appendHandler("h"), 0, nil)

	bag := Bag{}
	if err := runner.Run(context.Background(), "p", bag, nil); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(trail(bag)) != 2 {
		t.Errorf("Run must execute handlers regardless of active state, trail: %v", trail(bag))
	}
}

func TestRunner_RunIfActive(t *testing.T) {
	reg, runner := newTestRunner(t)
	reg.Define("p", "", true)
	reg.Register("p", appendHandler("h"), 0, nil)

	// Active: handlers and destination run.
	bag := Bag{}
	destRan := false
	dest := func(ctx context.Context, bag Bag) error {
		destRan = true
		return nil
	}
	if err := runner.RunIfActive(context.Background(), "p", bag, dest); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(trail(bag)) != 2 || !destRan {
		t.Fatalf("active pipeline should run handlers and destination, trail: %v destRan: %v", trail(bag), destRan)
	}

	// Inactive: middleware bypassed, destination still runs.
	reg.SetActive("p", false)
	bag = Bag{}
	destRan = false
	if err := runner.RunIfActive(context.Background(), "p", bag, dest); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(trail(bag)) != 0 {
		t.Errorf("inactive pipeline must bypass middleware, trail: %v", trail(bag))
	}
	if !destRan {
		t.Error("destination must run even when the pipeline is inactive")
	}
}

func TestRunner_RunWithMergesExtra(t *testing.T) {
	reg, runner := newTestRunner(t)
	reg.Define("p", "", true)
	reg.Register("p", appendHandler("global"), 10, nil)

	extra := []Registration{
		{Handler: appendHandler("request-high"), Priority: 50},
		{Handler: appendHandler("request-tied"), Priority: 10},
	}

	bag := Bag{}
	if err := runner.RunWith(context.Background(), "p", bag, extra, nil); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// Higher priority extras run first; at equal priority globals come
	// before per-request registrations.
	want := []string{
		"request-high:before", "global:before", "request-tied:before",
		"request-tied:after", "global:after", "request-high:after",
	}
	got := trail(bag)
	if len(got) != len(want) {
		t.Fatalf("expected trail %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected trail %v, got %v", want, got)
		}
	}

	// The global registry must be untouched.
	if n := len(reg.HandlersFor("p")); n != 1 {
		t.Errorf("RunWith must not mutate the global registry, got %d handlers", n)
	}
}

func TestRunner_RunIfActiveWithInactive(t *testing.T) {
	reg, runner := newTestRunner(t)
	reg.Define("p", "", false)

	extra := []Registration{{Handler: appendHandler("request")}}
	bag := Bag{}
	destRan := false
	err := runner.RunIfActiveWith(context.Background(), "p", bag, extra, func(ctx context.Context, bag Bag) error {
		destRan = true
		return nil
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(trail(bag)) != 0 {
		t.Errorf("inactive pipeline must skip per-request middleware too, trail: %v", trail(bag))
	}
	if !destRan {
		t.Error("destination must run even when the pipeline is inactive")
	}
}

func TestRunner_NilBagAndDest(t *testing.T) {
	reg, runner := newTestRunner(t)
	reg.Define("p", "", true)

	ran := false
	reg.Register("p", HandlerFunc(func(ctx context.Context, bag Bag, next Next) error {
		if bag == nil {
			t.Error("handler should receive a non-nil bag")
		}
		ran = true
		return next(ctx, bag)
	}), 0, nil)

	if err := runner.Run(context.Background(), "p", nil, nil); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !ran {
		t.Error("handler should have run")
	}
}
