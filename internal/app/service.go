// Package app is the UI collaborator's contract: a JSON HTTP surface over
// the session initializer, the access coordinator, and the event log.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"vaultnotes/client/internal/access"
	"vaultnotes/client/internal/auth"
	"vaultnotes/client/internal/engine"
	"vaultnotes/client/internal/eventlog"
	"vaultnotes/client/internal/passcode"
	"vaultnotes/client/internal/session"
)

// Service wires the client subsystems together behind one facade the HTTP
// layer calls into.
type Service struct {
	engine    engine.Engine
	broker    *auth.Broker
	secret    []byte
	challenge *passcode.Challenge
	init      *session.Initializer
	coord     *access.Coordinator
	events    *eventlog.Log

	mu      sync.Mutex
	running bool
}

func NewService(sdk engine.Engine, broker *auth.Broker, secret []byte, challenge *passcode.Challenge, init *session.Initializer, coord *access.Coordinator, events *eventlog.Log) *Service {
	return &Service{
		engine:    sdk,
		broker:    broker,
		secret:    secret,
		challenge: challenge,
		init:      init,
		coord:     coord,
		events:    events,
	}
}

// SessionState is what GET /api/session reports.
type SessionState struct {
	State                 session.State
	UserID                string
	Status                engine.UserStatus
	NeedsRotation         bool
	PendingPasscode       passcode.Reason
	FailureReason         string
	PreviouslyEstablished bool
}

// StartInitialization kicks off the unlock-or-provision flow in the
// background. The flow suspends on the passcode challenge, so it cannot run
// inside a single request; the UI polls GET /api/session and answers via
// POST /api/session/passcode. Repeated calls while a flow is in flight are
// no-ops.
func (s *Service) StartInitialization(ctx context.Context) SessionState {
	s.mu.Lock()
	start := !s.running && s.init.State() != session.StateReady
	if start {
		s.running = true
	}
	s.mu.Unlock()

	if start {
		go func() {
			defer func() {
				s.mu.Lock()
				s.running = false
				s.mu.Unlock()
			}()
			_, _ = s.init.Initialize(context.Background())
		}()
	}
	return s.Session(ctx)
}

func (s *Service) Session(ctx context.Context) SessionState {
	state := SessionState{State: s.init.State()}
	if result, ok := s.init.Result(); ok {
		state.UserID = result.UserID
		state.Status = result.Status
		state.NeedsRotation = result.NeedsRotation
	}
	if reason, ok := s.challenge.Pending(); ok {
		state.PendingPasscode = reason
	}
	state.FailureReason = s.init.FailureReason()
	// A lookup failure means no usable marker; the flow runs as if none exists.
	established, err := s.init.MarkerEstablished(ctx)
	if err != nil {
		s.events.Error(fmt.Sprintf("session marker lookup failed: %v", err))
	}
	state.PreviouslyEstablished = established
	return state
}

// Teardown drops the persisted session marker so the next page load runs the
// initialization flow from scratch.
func (s *Service) Teardown(ctx context.Context) error {
	if err := s.init.ClearMarker(ctx); err != nil {
		s.events.Error(fmt.Sprintf("session marker not cleared: %v", err))
		return err
	}
	s.events.Info("session marker cleared")
	return nil
}

// SupplyPasscode resolves the outstanding challenge, if any.
func (s *Service) SupplyPasscode(secret string) error {
	if !s.challenge.Supply(secret) {
		return domainError(http.StatusConflict, "NO_CHALLENGE", "No passcode challenge is pending", nil)
	}
	return nil
}

// Token mints a bearer credential for the UI to use on protected routes.
func (s *Service) Token(ctx context.Context) (string, error) {
	return s.broker.Credential(ctx)
}

// Identity verifies a bearer token from a request.
func (s *Service) Identity(token string) (engine.UserIdentity, error) {
	return auth.Verify(s.secret, token)
}

func (s *Service) CreateUser(ctx context.Context, secret string, needsRotation bool) (engine.InitResult, error) {
	return s.init.CreateUserManually(ctx, secret, engine.CreateUserOptions{NeedsRotation: needsRotation})
}

func (s *Service) CreateDevice(ctx context.Context, secret string) error {
	return s.init.CreateDeviceManually(ctx, secret)
}

func (s *Service) ChangePasscode(ctx context.Context, current, updated string) error {
	err := s.engine.User().ChangePasscode(ctx, current, updated)
	if err != nil {
		s.events.Error("passcode change failed")
		return err
	}
	s.events.Success("passcode changed")
	return nil
}

func (s *Service) DeauthorizeDevice(ctx context.Context) (engine.DeviceDeauthorizeResult, error) {
	result, err := s.engine.User().DeauthorizeDevice(ctx)
	if err != nil {
		return engine.DeviceDeauthorizeResult{}, err
	}
	s.events.Success("device deauthorized")
	return result, nil
}

func (s *Service) Coordinator() *access.Coordinator { return s.coord }

func (s *Service) Events() []eventlog.Entry { return s.events.Snapshot() }
