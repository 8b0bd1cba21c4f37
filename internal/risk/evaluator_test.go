package risk

import "testing"

func TestStopLossThreshold(t *testing.T) {
	tests := []struct {
		name    string
		price   float64
		trigger bool
	}{
		{"below threshold closes", 94, true},
		{"at threshold closes", 95, true},
		{"above threshold holds", 96, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEvaluator(Params{StopLossPct: 0.05})
			e.Arm(100)

			actions := e.Evaluate(100, tt.price)
			if tt.trigger {
				if len(actions) != 1 || actions[0].Kind != ActionClose {
					t.Fatalf("price %v: expected full close, got %+v", tt.price, actions)
				}
			} else if len(actions) != 0 {
				t.Fatalf("price %v: expected no action, got %+v", tt.price, actions)
			}
		})
	}
}

func TestTrailingStop(t *testing.T) {
	tests := []struct {
		name    string
		prices  []float64
		trigger bool
	}{
		// High-water 110, floor 107.8: 105 closes.
		{"rally then drop triggers", []float64{100, 110, 105}, true},
		// High-water 105, floor 102.9: 103 holds.
		{"shallow pullback holds", []float64{100, 105, 103}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEvaluator(Params{TrailingEnabled: true, TrailingPct: 0.02})
			e.Arm(tt.prices[0])

			var last []Action
			for _, p := range tt.prices {
				last = e.Evaluate(tt.prices[0], p)
			}
			if tt.trigger {
				if len(last) != 1 || last[0].Kind != ActionClose {
					t.Fatalf("expected trailing close, got %+v", last)
				}
			} else if len(last) != 0 {
				t.Fatalf("expected no action, got %+v", last)
			}
		})
	}
}

func TestTrailingHighWaterTracksPeak(t *testing.T) {
	e := NewEvaluator(Params{TrailingEnabled: true, TrailingPct: 0.02})
	e.Arm(100)
	e.Evaluate(100, 110)
	if e.HighWater() != 110 {
		t.Fatalf("high water = %v, want 110", e.HighWater())
	}
	e.Evaluate(100, 108) // pullback must not lower the mark
	if e.HighWater() != 110 {
		t.Fatalf("high water moved down to %v", e.HighWater())
	}
}

func TestTakeProfitTierFiresOnce(t *testing.T) {
	e := NewEvaluator(Params{Tiers: []Tier{{TargetPct: 0.05, AmountPct: 0.5}}})
	e.Arm(100)

	first := e.Evaluate(100, 105)
	if len(first) != 1 || first[0].Kind != ActionPartialClose || first[0].Fraction != 0.5 {
		t.Fatalf("expected one 50%% partial close, got %+v", first)
	}

	// Price dips and revisits the level: the tier stays spent.
	for _, p := range []float64{103, 106, 105} {
		if actions := e.Evaluate(100, p); len(actions) != 0 {
			t.Fatalf("price %v: tier fired again: %+v", p, actions)
		}
	}
}

func TestMultipleTiersSameTick(t *testing.T) {
	e := NewEvaluator(Params{Tiers: []Tier{
		{TargetPct: 0.10, AmountPct: 0.5}, // deliberately unsorted
		{TargetPct: 0.05, AmountPct: 0.25},
	}})
	e.Arm(100)

	// A gap straight to +10% fires both tiers, ascending.
	actions := e.Evaluate(100, 110)
	if len(actions) != 2 {
		t.Fatalf("expected both tiers, got %+v", actions)
	}
	if actions[0].Fraction != 0.25 || actions[1].Fraction != 0.5 {
		t.Fatalf("tiers out of order: %+v", actions)
	}
}

func TestStopLossOutranksTiers(t *testing.T) {
	e := NewEvaluator(Params{
		StopLossPct: 0.05,
		Tiers:       []Tier{{TargetPct: 0.05, AmountPct: 0.5}},
	})
	e.Arm(100)

	actions := e.Evaluate(100, 90)
	if len(actions) != 1 || actions[0].Kind != ActionClose {
		t.Fatalf("stop-loss must win: %+v", actions)
	}
}

func TestRearmResetsTierState(t *testing.T) {
	e := NewEvaluator(Params{Tiers: []Tier{{TargetPct: 0.05, AmountPct: 1.0}}})
	e.Arm(100)
	if actions := e.Evaluate(100, 106); len(actions) != 1 {
		t.Fatal("tier should fire on first position")
	}

	e.Disarm()
	e.Arm(200) // new position lifetime, tier is fresh
	if actions := e.Evaluate(200, 212); len(actions) != 1 {
		t.Fatal("tier should fire again after re-arm")
	}
}

func TestDisarmedEvaluatesToNothing(t *testing.T) {
	e := NewEvaluator(Params{StopLossPct: 0.05})
	if actions := e.Evaluate(100, 1); actions != nil {
		t.Fatalf("disarmed evaluator acted: %+v", actions)
	}
}
