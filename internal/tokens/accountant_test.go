package tokens

import (
	"sync"
	"testing"

	"github.com/opencoder/swarm/internal/eventbus"
)

func TestRecordAccumulates(t *testing.T) {
	a := New(nil)

	a.Record("gpt-4o", 100, 50)
	a.Record("gpt-4o", 200, 75)

	got := a.Usage()
	if got.PromptTokens != 300 {
		t.Fatalf("expected 300 prompt tokens, got %d", got.PromptTokens)
	}
	if got.CompletionTokens != 125 {
		t.Fatalf("expected 125 completion tokens, got %d", got.CompletionTokens)
	}
	if got.Total() != 425 {
		t.Fatalf("expected total 425, got %d", got.Total())
	}
	if got.CallCount != 2 {
		t.Fatalf("expected 2 calls recorded, got %d", got.CallCount)
	}
}

func TestRecordEmitsTokensUpdate(t *testing.T) {
	bus := eventbus.New()
	a := New(bus)

	var got eventbus.Event
	bus.Subscribe(eventbus.TopicTokensUpdate, func(e eventbus.Event) { got = e })

	a.Record("gpt-4o", 10, 5)

	if got.PromptTokens != 10 || got.CompletionTokens != 5 {
		t.Fatalf("expected event to carry cumulative totals, got %+v", got)
	}
}

func TestResetZeroesTotals(t *testing.T) {
	a := New(nil)
	a.Record("gpt-4o", 10, 10)
	a.Reset()

	got := a.Usage()
	if got.Total() != 0 {
		t.Fatalf("expected 0 after reset, got %d", got.Total())
	}
	if got.CallCount != 0 {
		t.Fatalf("expected call count reset to 0, got %d", got.CallCount)
	}
	if a.Cost() != 0 {
		t.Fatalf("expected cost reset to 0, got %f", a.Cost())
	}
}

func TestRecordIsConcurrencySafe(t *testing.T) {
	a := New(nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Record("gpt-4o", 1, 1)
		}()
	}
	wg.Wait()

	got := a.Usage()
	if got.Total() != 200 {
		t.Fatalf("expected 200, got %d", got.Total())
	}
	if got.CallCount != 100 {
		t.Fatalf("expected 100 calls recorded, got %d", got.CallCount)
	}
}

func TestCostUsesPerModelPricing(t *testing.T) {
	a := New(nil)
	a.Record("gpt-4o", 1_000_000, 1_000_000)

	got := a.Cost()
	want := 2.50 + 10.00
	if got != want {
		t.Fatalf("expected cost %f for 1M prompt + 1M completion tokens at gpt-4o rates, got %f", want, got)
	}
}

func TestCostFallsBackToDefaultPricingForUnknownModel(t *testing.T) {
	a := New(nil)
	a.Record("some-future-model", 1_000_000, 0)

	if got := a.Cost(); got != defaultPricing.PromptPerMillion {
		t.Fatalf("expected unknown model to use default pricing, got %f", got)
	}
}
