package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

var errStageBoom = errors.New("boom")

func TestRunExecutesStagesInOrder(t *testing.T) {
	logger := zerolog.Nop()

	var order []string

	record := func(name string) Stage {
		return Stage{Name: name, Run: func(context.Context) error {
			order = append(order, name)
			return nil
		}}
	}

	p := New("run-1", &logger, record("scrape"), record("load-raw"), record("enrich"))

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	want := []string{"scrape", "load-raw", "enrich"}
	if len(order) != len(want) {
		t.Fatalf("expected %d stages, got %d", len(want), len(order))
	}

	for i, name := range want {
		if order[i] != name {
			t.Fatalf("stage %d: expected %s, got %s", i, name, order[i])
		}
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	logger := zerolog.Nop()

	ran := false

	p := New("run-1", &logger,
		Stage{Name: "first", Run: func(context.Context) error { return errStageBoom }},
		Stage{Name: "second", Run: func(context.Context) error { ran = true; return nil }},
	)

	err := p.Run(context.Background())
	if !errors.Is(err, errStageBoom) {
		t.Fatalf("expected stage error, got %v", err)
	}

	if ran {
		t.Fatal("second stage must not run after the first fails")
	}
}

func TestRunHonorsCancelledContext(t *testing.T) {
	logger := zerolog.Nop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New("run-1", &logger, Stage{Name: "never", Run: func(context.Context) error {
		t.Fatal("stage must not run with cancelled context")
		return nil
	}})

	if err := p.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
