package throttle

import (
	"context"
	"testing"
	"time"
)

func TestAllowBurstsThenDenies(t *testing.T) {
	th := New(2)
	if !th.Allow() {
		t.Fatal("expected first call to be allowed")
	}
	if !th.Allow() {
		t.Fatal("expected second call (within burst) to be allowed")
	}
	if th.Allow() {
		t.Fatal("expected third call to be denied until the bucket refills")
	}
}

func TestDefaultMaxPerMinuteAppliedForNonPositive(t *testing.T) {
	th := New(0)
	for i := 0; i < DefaultMaxPerMinute; i++ {
		if !th.Allow() {
			t.Fatalf("call %d should be allowed under the default burst", i)
		}
	}
	if th.Allow() {
		t.Fatal("expected the burst to be exhausted at DefaultMaxPerMinute")
	}
}

func TestWaitReturnsOnContextCancellation(t *testing.T) {
	th := New(1)
	th.Allow() // exhaust the single token

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := th.Wait(ctx)
	if err == nil {
		t.Error("expected Wait to return an error once the context deadline is exceeded")
	}
}
