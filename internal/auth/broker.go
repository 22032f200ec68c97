// Package auth mints and verifies the short-lived bearer credentials the
// engine demands on every authenticated call.
package auth

import (
	"context"
	"time"

	"vaultnotes/client/internal/engine"
	"vaultnotes/client/internal/util"
)

// Broker obtains bearer credentials on demand. It is stateless apart from the
// injected identity accessor, which is read fresh on every mint so the broker
// always signs for the session's current user.
type Broker struct {
	secret   []byte
	ttl      time.Duration
	identity func() engine.UserIdentity
}

func NewBroker(secret []byte, ttl time.Duration, identity func() engine.UserIdentity) *Broker {
	return &Broker{secret: secret, ttl: ttl, identity: identity}
}

// Credential implements engine.CredentialProvider.
func (b *Broker) Credential(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	user := b.identity()
	if user.ID == "" {
		return "", engine.Errorf(engine.CodeCredentialRejected, "no current user identity")
	}
	return IssueToken(b.secret, Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  util.NewID("jti"),
		Exp:  time.Now().Add(b.ttl).Unix(),
	})
}

// Verify parses a credential previously minted by a broker sharing the same
// secret and returns the identity it was signed for.
func Verify(secret []byte, token string) (engine.UserIdentity, error) {
	claims, err := ParseToken(secret, token)
	if err != nil {
		return engine.UserIdentity{}, err
	}
	return engine.UserIdentity{ID: claims.Sub, DisplayName: claims.Name}, nil
}
