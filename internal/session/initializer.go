// Package session drives first-time provisioning or existing-user unlock of
// the cryptographic identity, and persists the marker that lets the host page
// treat the session as established.
package session

import (
	"context"
	"fmt"
	"sync"

	"vaultnotes/client/internal/engine"
	"vaultnotes/client/internal/eventlog"
	"vaultnotes/client/internal/passcode"
)

type State string

const (
	StateUninitialized      State = "uninitialized"
	StateAwaitingCredential State = "awaitingCredential"
	StateAwaitingPasscode   State = "awaitingPasscode"
	StateProvisioning       State = "provisioning"
	StateRotationPending    State = "rotationPending"
	StateReady              State = "ready"
	StateFailed             State = "failed"
)

// sdk is the slice of the engine the initializer drives.
type sdk interface {
	Initialize(ctx context.Context, credentials engine.CredentialProvider, passcodes engine.PasscodeProvider) (engine.InitResult, error)
	CreateUser(ctx context.Context, credentials engine.CredentialProvider, passcode string, opts engine.CreateUserOptions) (engine.InitResult, error)
	CreateDevice(ctx context.Context, credentials engine.CredentialProvider, passcode string) error
	User() engine.UserOps
}

// Initializer is the session-initialization state machine. The current user
// identity is threaded in at construction; there is no ambient global.
type Initializer struct {
	engine    sdk
	creds     engine.CredentialProvider
	challenge *passcode.Challenge
	markers   *MarkerStore
	events    *eventlog.Log
	user      engine.UserIdentity

	mu         sync.Mutex
	state      State
	failReason string
	result     *engine.InitResult
}

// New wires an initializer. markers may be nil when no marker persistence is
// configured.
func New(sdkEngine sdk, creds engine.CredentialProvider, challenge *passcode.Challenge, markers *MarkerStore, events *eventlog.Log, user engine.UserIdentity) *Initializer {
	return &Initializer{
		engine:    sdkEngine,
		creds:     creds,
		challenge: challenge,
		markers:   markers,
		events:    events,
		user:      user,
		state:     StateUninitialized,
	}
}

func (i *Initializer) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// FailureReason is only meaningful when State is StateFailed.
func (i *Initializer) FailureReason() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.failReason
}

// Result returns the initialization result once Ready has been reached.
func (i *Initializer) Result() (engine.InitResult, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.result == nil {
		return engine.InitResult{}, false
	}
	return *i.result, true
}

func (i *Initializer) setState(state State) {
	i.mu.Lock()
	i.state = state
	i.mu.Unlock()
}

func (i *Initializer) fail(err error) {
	i.mu.Lock()
	i.state = StateFailed
	i.failReason = err.Error()
	i.mu.Unlock()
	i.events.Error(fmt.Sprintf("session initialization failed: %v", err))
}

// Initialize runs the unlock-or-provision flow. A credential failure is fatal
// to the attempt and is not retried. An incorrect passcode re-issues the
// challenge and loops; the retry is bounded only by user persistence.
func (i *Initializer) Initialize(ctx context.Context) (engine.InitResult, error) {
	i.setState(StateAwaitingCredential)
	i.events.Info(fmt.Sprintf("requesting session credential for %s", i.user.ID))

	for {
		result, err := i.engine.Initialize(ctx, i.creds, passcodeSupplier{i})
		if err != nil {
			if engine.IsCode(err, engine.CodeIncorrectPasscode) {
				i.events.Error("incorrect passcode, prompting again")
				continue
			}
			i.fail(err)
			return engine.InitResult{}, err
		}

		i.setState(StateReady)
		if result.NeedsRotation {
			if err := i.rotate(ctx); err != nil {
				i.fail(err)
				return engine.InitResult{}, err
			}
			i.setState(StateReady)
		}

		i.persistMarker(ctx, result.UserID)
		i.mu.Lock()
		i.result = &result
		i.mu.Unlock()
		i.events.Success("session ready")
		return result, nil
	}
}

// rotate runs the extra rotation step demanded by NeedsRotation. It may ask
// for the passcode again, with the same retry loop as the unlock flow.
func (i *Initializer) rotate(ctx context.Context) error {
	i.setState(StateRotationPending)
	i.events.Info("master key rotation required")

	for {
		secret, err := i.requestPasscode(ctx, passcode.ExistingUserUnlock)
		if err != nil {
			return err
		}
		i.setState(StateRotationPending)

		err = i.engine.User().RotateMasterKey(ctx, secret)
		if err == nil {
			i.events.Success("master key rotated")
			return nil
		}
		if engine.IsCode(err, engine.CodeIncorrectPasscode) {
			i.events.Error("incorrect passcode, prompting again")
			continue
		}
		return err
	}
}

// CreateUserManually provisions the user in a single round-trip, independent
// of the Initialize state machine.
func (i *Initializer) CreateUserManually(ctx context.Context, secret string, opts engine.CreateUserOptions) (engine.InitResult, error) {
	result, err := i.engine.CreateUser(ctx, i.creds, secret, opts)
	if err != nil {
		i.events.Error(fmt.Sprintf("manual user creation failed: %v", err))
		return engine.InitResult{}, err
	}
	i.events.Success(fmt.Sprintf("user %s created", result.UserID))
	return result, nil
}

// CreateDeviceManually authorizes this device in a single round-trip.
func (i *Initializer) CreateDeviceManually(ctx context.Context, secret string) error {
	if err := i.engine.CreateDevice(ctx, i.creds, secret); err != nil {
		i.events.Error(fmt.Sprintf("manual device creation failed: %v", err))
		return err
	}
	i.events.Success("device authorized")
	return nil
}

// requestPasscode surfaces a challenge and suspends until the UI supplies the
// secret. Re-issuing the challenge replaces the slot, which clears any
// previously entered secret on the UI side.
func (i *Initializer) requestPasscode(ctx context.Context, reason passcode.Reason) (string, error) {
	i.setState(StateAwaitingPasscode)
	ch := i.challenge.Request(reason)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case secret := <-ch:
		return secret, nil
	}
}

// MarkerEstablished reports whether an unexpired marker exists for the
// session user, so the host page can skip re-running the flow on intra-page
// navigation. Always false when no marker persistence is configured.
func (i *Initializer) MarkerEstablished(ctx context.Context) (bool, error) {
	if i.markers == nil {
		return false, nil
	}
	return i.markers.Established(ctx, i.markerUserID())
}

// ClearMarker drops the persisted session marker, if any.
func (i *Initializer) ClearMarker(ctx context.Context) error {
	if i.markers == nil {
		return nil
	}
	return i.markers.Clear(ctx, i.markerUserID())
}

// markerUserID prefers the engine-reported user id once initialization has
// produced one, falling back to the configured identity before that.
func (i *Initializer) markerUserID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.result != nil {
		return i.result.UserID
	}
	return i.user.ID
}

// persistMarker records the established session. Marker persistence is a
// convenience for intra-page navigation; a failure is reported but does not
// fail an otherwise ready session.
func (i *Initializer) persistMarker(ctx context.Context, userID string) {
	if i.markers == nil {
		return
	}
	if err := i.markers.Save(ctx, userID); err != nil {
		i.events.Error(fmt.Sprintf("session marker not persisted: %v", err))
	}
}

// passcodeSupplier adapts the initializer into the engine's passcode
// provider, tracking the AwaitingPasscode/Provisioning transitions.
type passcodeSupplier struct {
	init *Initializer
}

func (s passcodeSupplier) Passcode(ctx context.Context, reason engine.PasscodeReason) (string, error) {
	secret, err := s.init.requestPasscode(ctx, mapReason(reason))
	if err != nil {
		return "", err
	}
	s.init.setState(StateProvisioning)
	return secret, nil
}

func mapReason(reason engine.PasscodeReason) passcode.Reason {
	if reason == engine.PasscodeNewUser {
		return passcode.NewUser
	}
	return passcode.ExistingUserUnlock
}
