// Package passcode provides the single-slot suspension point used to collect
// the user's secret during session initialization.
package passcode

import "sync"

// Reason tells the UI why a passcode is being requested.
type Reason string

const (
	NewUser            Reason = "newUser"
	ExistingUserUnlock Reason = "existingUserUnlock"
)

// Challenge is a one-shot, externally resolved request for a secret. At most
// one request is outstanding at a time: issuing a second request replaces the
// resolver, and the prior caller's channel is never resolved. The UI only
// ever shows one passcode form, so last-request-wins is the contract here,
// not an accident.
type Challenge struct {
	mu      sync.Mutex
	pending chan string
	reason  Reason
}

func New() *Challenge {
	return &Challenge{}
}

// Request surfaces a new passcode prompt and returns the channel the secret
// will arrive on. The returned channel receives at most one value.
func (c *Challenge) Request(reason Reason) <-chan string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = make(chan string, 1)
	c.reason = reason
	return c.pending
}

// Supply resolves the outstanding request. It reports false when no request
// is pending or the pending request was already resolved.
func (c *Challenge) Supply(secret string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return false
	}
	c.pending <- secret
	c.pending = nil
	c.reason = ""
	return true
}

// Pending reports whether a request is outstanding and why it was issued.
func (c *Challenge) Pending() (Reason, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return "", false
	}
	return c.reason, true
}
