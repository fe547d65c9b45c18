package router

import (
	"testing"
	"time"
)

func TestDeliveryPolicyBackoff(t *testing.T) {
	p := DeliveryPolicy{
		MaxAttempts:       5,
		InitialBackoff:    25 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        80 * time.Millisecond,
	}.normalized()

	want := []time.Duration{
		25 * time.Millisecond,
		50 * time.Millisecond,
		80 * time.Millisecond, // capped, would be 100ms
		80 * time.Millisecond,
	}
	for i, w := range want {
		if got := p.backoff(i + 1); got != w {
			t.Fatalf("backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestDeliveryPolicyBackoffZeroInitial(t *testing.T) {
	p := DeliveryPolicy{MaxAttempts: 3}.normalized()
	if got := p.backoff(1); got != 0 {
		t.Fatalf("backoff without initial = %v", got)
	}
}

func TestDeliveryPolicyNormalized(t *testing.T) {
	p := DeliveryPolicy{}.normalized()
	if p.MaxAttempts != 1 {
		t.Fatalf("MaxAttempts = %d", p.MaxAttempts)
	}
	if p.BackoffMultiplier != 2.0 {
		t.Fatalf("BackoffMultiplier = %v", p.BackoffMultiplier)
	}
}
