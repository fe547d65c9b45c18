package api

import (
	"errors"
	"testing"
)

func TestPredicate_Matches(t *testing.T) {
	ev := Event{
		Source: "claims-portal",
		Type:   "Claim.Submitted",
		Payload: Document{
			"claim": map[string]any{"status": "open", "amount": 120.0},
		},
	}

	cases := []struct {
		name string
		pred Predicate
		want bool
	}{
		{
			name: "type match",
			pred: Predicate{Types: []string{"Claim.Submitted"}},
			want: true,
		},
		{
			name: "type mismatch",
			pred: Predicate{Types: []string{"Claim.Accepted"}},
			want: false,
		},
		{
			name: "empty types never matches",
			pred: Predicate{Sources: []string{"claims-portal"}},
			want: false,
		},
		{
			name: "source restricts",
			pred: Predicate{Types: []string{"Claim.Submitted"}, Sources: []string{"other"}},
			want: false,
		},
		{
			name: "where equality on payload path",
			pred: Predicate{
				Types: []string{"Claim.Submitted"},
				Where: map[string]any{"claim.status": "open"},
			},
			want: true,
		},
		{
			name: "where mismatch",
			pred: Predicate{
				Types: []string{"Claim.Submitted"},
				Where: map[string]any{"claim.status": "closed"},
			},
			want: false,
		},
		{
			name: "where numeric widening",
			pred: Predicate{
				Types: []string{"Claim.Submitted"},
				Where: map[string]any{"claim.amount": 120},
			},
			want: true,
		},
		{
			name: "where missing path",
			pred: Predicate{
				Types: []string{"Claim.Submitted"},
				Where: map[string]any{"claim.owner": "x"},
			},
			want: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.pred.Matches(ev); got != tc.want {
				t.Fatalf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRoute_Validate(t *testing.T) {
	valid := Route{
		Name:    "r",
		Match:   Predicate{Types: []string{"T"}},
		Targets: []Target{QueueTarget("q")},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid route rejected: %v", err)
	}

	noTypes := valid
	noTypes.Match = Predicate{}
	if err := noTypes.Validate(); err == nil {
		t.Fatal("route without types accepted")
	}

	noTargets := valid
	noTargets.Targets = nil
	if err := noTargets.Validate(); err == nil {
		t.Fatal("route without targets accepted")
	}

	emptyQueue := valid
	emptyQueue.Targets = []Target{{Kind: TargetQueue}}
	if err := emptyQueue.Validate(); err == nil {
		t.Fatal("queue target without name accepted")
	}

	emptyWorkflow := valid
	emptyWorkflow.Targets = []Target{{Kind: TargetWorkflow}}
	if err := emptyWorkflow.Validate(); err == nil {
		t.Fatal("workflow target without id accepted")
	}
}

func TestRoute_FingerprintCanonical(t *testing.T) {
	a := Route{
		Name:    "one",
		Match:   Predicate{Types: []string{"B", "A"}, Sources: []string{"s2", "s1"}},
		Targets: []Target{QueueTarget("q"), LogTarget()},
	}
	b := Route{
		Name:    "completely-different-name",
		Match:   Predicate{Types: []string{"A", "B"}, Sources: []string{"s1", "s2"}},
		Targets: []Target{QueueTarget("q"), LogTarget()},
	}

	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("fingerprints differ for equivalent routes:\n%s\n%s", a.Fingerprint(), b.Fingerprint())
	}

	c := b
	c.Targets = []Target{LogTarget(), QueueTarget("q")}
	if a.Fingerprint() == c.Fingerprint() {
		t.Fatal("target order should be significant")
	}
}

func TestEvent_Validate(t *testing.T) {
	var invErr *InvalidEventError

	err := Event{Source: "s"}.Validate()
	if !errors.As(err, &invErr) {
		t.Fatalf("missing type: got %v", err)
	}

	err = Event{Type: "T"}.Validate()
	if !errors.As(err, &invErr) {
		t.Fatalf("missing source: got %v", err)
	}

	if err := (Event{Source: "s", Type: "T"}).Validate(); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}
}

func TestNewEvent_ClonesPayload(t *testing.T) {
	payload := Document{"k": map[string]any{"v": 1}}
	ev := NewEvent("src", "T", payload)

	payload.Set("k.v", 2)
	if got, _ := ev.Payload.Get("k.v"); got != 1 {
		t.Fatalf("event payload aliased producer document: %v", got)
	}
	if ev.ID == "" || ev.OccurredAt.IsZero() {
		t.Fatal("NewEvent should assign id and timestamp")
	}
}
