package entities

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/complyaudit/audit-core/pkg/apierr"
)

// Session is the abstract shape this pipeline consumes from an
// upstream authentication system. The pipeline never issues or
// validates login credentials; it only parses an already-issued bearer
// token to recover the claims an AuditEvent's SessionContext needs.
type Session struct {
	PrincipalID    string
	OrganizationID string
	SessionID      string
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

// sessionClaims is the minimal JWT claim set a bearer token is
// expected to carry. Fields beyond these are ignored: verifying the
// issuing authority's full claim schema is the upstream system's job.
type sessionClaims struct {
	jwt.RegisteredClaims
	OrganizationID string `json:"org_id"`
	SessionID      string `json:"sid"`
}

// ParseBearerSession parses and verifies an already-issued JWT bearer
// token with the given HMAC secret, returning the Session it encodes.
// This is the pipeline's only contact with authentication: it trusts
// the token's signature, not any particular issuer's login flow.
func ParseBearerSession(token string, secret []byte) (*Session, error) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apierr.New(apierr.CodeValidation, "unexpected bearer token signing method")
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, apierr.Wrap(apierr.CodeValidation, "invalid bearer session token", err)
	}

	session := &Session{
		PrincipalID:    claims.Subject,
		OrganizationID: claims.OrganizationID,
		SessionID:      claims.SessionID,
	}
	if claims.IssuedAt != nil {
		session.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

// ToSessionContext projects a Session down to the SessionContext shape
// embedded in AuditEvent, filling network/device fields the caller
// observed out-of-band (the token itself carries none of these).
func (s *Session) ToSessionContext(ipAddress, userAgent string) *SessionContext {
	return &SessionContext{
		SessionID: s.SessionID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
	}
}
