package passcode

import (
	"testing"
	"time"
)

func TestSupplyResolvesRequest(t *testing.T) {
	c := New()
	ch := c.Request(ExistingUserUnlock)

	if reason, ok := c.Pending(); !ok || reason != ExistingUserUnlock {
		t.Fatalf("expected pending unlock request, got %q %v", reason, ok)
	}

	if !c.Supply("hunter2") {
		t.Fatalf("Supply returned false with a pending request")
	}

	select {
	case secret := <-ch:
		if secret != "hunter2" {
			t.Fatalf("expected hunter2, got %q", secret)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for secret")
	}

	if _, ok := c.Pending(); ok {
		t.Fatalf("request still pending after Supply")
	}
}

func TestSupplyWithoutRequest(t *testing.T) {
	c := New()
	if c.Supply("secret") {
		t.Fatalf("Supply succeeded with no pending request")
	}
}

func TestSecondRequestReplacesFirst(t *testing.T) {
	c := New()
	first := c.Request(NewUser)
	second := c.Request(ExistingUserUnlock)

	if reason, ok := c.Pending(); !ok || reason != ExistingUserUnlock {
		t.Fatalf("expected the second request's reason, got %q %v", reason, ok)
	}

	if !c.Supply("secret") {
		t.Fatalf("Supply failed")
	}

	select {
	case secret := <-second:
		if secret != "secret" {
			t.Fatalf("expected secret on second channel, got %q", secret)
		}
	case <-time.After(time.Second):
		t.Fatalf("second channel never resolved")
	}

	// The abandoned first channel must never resolve.
	select {
	case secret := <-first:
		t.Fatalf("first channel resolved with %q; it should have been abandoned", secret)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEachSupplyNeedsAFreshRequest(t *testing.T) {
	c := New()
	_ = c.Request(ExistingUserUnlock)
	if !c.Supply("one") {
		t.Fatalf("first Supply failed")
	}
	if c.Supply("two") {
		t.Fatalf("second Supply succeeded without a new request")
	}
}
