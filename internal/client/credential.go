package client

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"quizbeam-client/internal/domain"
)

// CredentialStore persists the single session identity a device holds.
// Load returns domain.ErrNoCredential when nothing is stored.
type CredentialStore interface {
	Save(ctx context.Context, cred domain.Credential) error
	Load(ctx context.Context) (domain.Credential, error)
	Clear(ctx context.Context) error
}

// sessionClaims is the subset of the server-issued session token the client
// inspects. The client never verifies the signature; it only reads exp to
// avoid attempting recovery with a token the server is guaranteed to refuse.
type sessionClaims struct {
	SessionID     string `json:"sessionId,omitempty"`
	ParticipantID string `json:"participantId,omitempty"`
	jwt.RegisteredClaims
}

// tokenExpired reports whether token carries an exp claim in the past.
// Opaque or claim-less tokens are not judged locally.
func tokenExpired(token string, now time.Time) bool {
	if token == "" {
		return false
	}
	var claims sessionClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Time.Before(now)
}

// loadCredential pulls the stored identity, discarding it when expired.
func (c *Client) loadCredential(ctx context.Context) (domain.Credential, bool, error) {
	if c.creds == nil {
		return domain.Credential{}, false, nil
	}
	cred, err := c.creds.Load(ctx)
	if err != nil {
		if err == domain.ErrNoCredential {
			return domain.Credential{}, false, nil
		}
		return domain.Credential{}, false, err
	}
	if tokenExpired(cred.SessionToken, c.clock.Now()) {
		_ = c.creds.Clear(ctx)
		return domain.Credential{}, false, domain.ErrCredentialExpired
	}
	return cred, true, nil
}

// saveCredential persists and caches the identity.
func (c *Client) saveCredential(ctx context.Context, cred domain.Credential) {
	cred.SavedAt = c.clock.Now()
	c.mu.Lock()
	c.cred = cred
	c.hasCred = true
	c.mu.Unlock()
	if c.creds == nil {
		return
	}
	if err := c.creds.Save(ctx, cred); err != nil {
		c.log.Warn().Err(err).Msg("failed to persist session credential")
	}
}

// purgeCredential erases the identity everywhere. Mandatory on kick, ban,
// failed recovery, and explicit leave.
func (c *Client) purgeCredential(ctx context.Context) {
	c.mu.Lock()
	c.cred = domain.Credential{}
	c.hasCred = false
	c.mu.Unlock()
	if c.creds == nil {
		return
	}
	if err := c.creds.Clear(ctx); err != nil {
		c.log.Warn().Err(err).Msg("failed to clear session credential")
	}
}

// rememberQuestion records the last question this client saw, so a later
// recovery can tell how far the session moved on.
func (c *Client) rememberQuestion(ctx context.Context, questionID string) {
	c.mu.Lock()
	if !c.hasCred {
		c.mu.Unlock()
		return
	}
	c.cred.LastKnownQuestionID = questionID
	cred := c.cred
	c.mu.Unlock()
	if c.creds == nil {
		return
	}
	if err := c.creds.Save(ctx, cred); err != nil {
		c.log.Debug().Err(err).Msg("failed to update stored question marker")
	}
}
