// Package identity resolves the authenticated principal supplied by the identity provider.
// The engine never handles credentials; it trusts the gateway in front of it.
package identity

import (
	"fmt"
	"net/http"
	"strings"

	"fiscal-eligibility-engine/internal/models"
)

// Header names set by the trusted gateway.
const (
	HeaderAccountID    = "X-Account-Id"
	HeaderAccountEmail = "X-Account-Email"
	HeaderAccountRole  = "X-Account-Role"
)

// Principal is an authenticated account. ID is opaque to the engine.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Validate checks the principal carries an account id.
func (p Principal) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return models.ErrEmptyAccountID
	}
	return nil
}

// FromHeaders reads the principal from gateway headers.
func FromHeaders(h http.Header) (Principal, error) {
	p := Principal{
		ID:    strings.TrimSpace(h.Get(HeaderAccountID)),
		Email: strings.TrimSpace(h.Get(HeaderAccountEmail)),
		Role:  strings.TrimSpace(h.Get(HeaderAccountRole)),
	}
	if err := p.Validate(); err != nil {
		return Principal{}, err
	}
	return p, nil
}

// FromClaims reads the principal from API Gateway authorizer claims.
// Cognito style claims are nested under "claims"; custom authorizers put them at the top level.
func FromClaims(authorizer map[string]interface{}) (Principal, error) {
	claims := authorizer
	if nested, ok := authorizer["claims"].(map[string]interface{}); ok {
		claims = nested
	}

	p := Principal{
		ID:    claimString(claims, "sub", "account_id", "principalId"),
		Email: claimString(claims, "email"),
		Role:  claimString(claims, "custom:role", "role"),
	}
	if p.ID == "" {
		p.ID = claimString(authorizer, "principalId")
	}
	if err := p.Validate(); err != nil {
		return Principal{}, fmt.Errorf("authorizer claims: %w", err)
	}
	return p, nil
}

func claimString(claims map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := claims[key]; ok && v != nil {
			if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
				return s
			}
		}
	}
	return ""
}
