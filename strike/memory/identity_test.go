package memory

import "testing"

func baseInput() IdentityInput {
	return IdentityInput{
		Hostname:   "shop.example.com",
		VulnType:   "sql-injection",
		Source:     "user_input",
		Path:       "/api/products",
		SinkCall:   "db.query",
		Confidence: 85,
	}
}

func TestIdentityHashDeterministic(t *testing.T) {
	t.Log("\n🔑 Testing identity hash determinism...")

	a, err := GenerateIdentityHash(baseInput(), StrategyStrict)
	if err != nil {
		t.Fatalf("GenerateIdentityHash failed: %v", err)
	}
	b, _ := GenerateIdentityHash(baseInput(), StrategyStrict)
	if a != b {
		t.Errorf("same input must hash identically: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestIdentityHashNormalization(t *testing.T) {
	in := baseInput()
	in.Hostname = "  SHOP.Example.COM "
	in.VulnType = "SQL-Injection"

	a, _ := GenerateIdentityHash(in, StrategyStrict)
	b, _ := GenerateIdentityHash(baseInput(), StrategyStrict)
	if a != b {
		t.Error("case and whitespace differences must not split identities")
	}
}

func TestIdentityHashConfidenceBuckets(t *testing.T) {
	a := baseInput()
	a.Confidence = 81
	b := baseInput()
	b.Confidence = 89
	c := baseInput()
	c.Confidence = 90

	ha, _ := GenerateIdentityHash(a, StrategyStrict)
	hb, _ := GenerateIdentityHash(b, StrategyStrict)
	hc, _ := GenerateIdentityHash(c, StrategyStrict)
	if ha != hb {
		t.Error("strict: confidence within the same 10-point bucket must match")
	}
	if ha == hc {
		t.Error("strict: confidence across buckets must differ")
	}

	// Moderate widens to 25-point buckets: 81 and 90 both land in 75.
	ma, _ := GenerateIdentityHash(a, StrategyModerate)
	mc, _ := GenerateIdentityHash(c, StrategyModerate)
	if ma != mc {
		t.Error("moderate: 81 and 90 share the 75 bucket")
	}
}

func TestIdentityHashStrategies(t *testing.T) {
	t.Log("\n🧮 Testing strategy field sensitivity...")

	withSink := baseInput()
	noSink := baseInput()
	noSink.SinkCall = "different.sink"

	sa, _ := GenerateIdentityHash(withSink, StrategyStrict)
	sb, _ := GenerateIdentityHash(noSink, StrategyStrict)
	if sa == sb {
		t.Error("strict must distinguish sink calls")
	}

	ma, _ := GenerateIdentityHash(withSink, StrategyModerate)
	mb, _ := GenerateIdentityHash(noSink, StrategyModerate)
	if ma != mb {
		t.Error("moderate must ignore sink calls")
	}

	otherPath := baseInput()
	otherPath.Path = "/api/orders"
	mc, _ := GenerateIdentityHash(otherPath, StrategyModerate)
	if ma == mc {
		t.Error("moderate must distinguish paths")
	}
	la, _ := GenerateIdentityHash(baseInput(), StrategyLoose)
	lc, _ := GenerateIdentityHash(otherPath, StrategyLoose)
	if la != lc {
		t.Error("loose must ignore paths")
	}
}

func TestIdentityHashUnknownStrategy(t *testing.T) {
	if _, err := GenerateIdentityHash(baseInput(), Strategy("fuzzy")); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestIdentityHashConfidenceClamping(t *testing.T) {
	low := baseInput()
	low.Confidence = -10
	zero := baseInput()
	zero.Confidence = 0
	hl, _ := GenerateIdentityHash(low, StrategyStrict)
	hz, _ := GenerateIdentityHash(zero, StrategyStrict)
	if hl != hz {
		t.Error("negative confidence clamps to 0")
	}

	high := baseInput()
	high.Confidence = 250
	hundred := baseInput()
	hundred.Confidence = 100
	hh, _ := GenerateIdentityHash(high, StrategyStrict)
	h1, _ := GenerateIdentityHash(hundred, StrategyStrict)
	if hh != h1 {
		t.Error("confidence above 100 clamps to 100")
	}
}
