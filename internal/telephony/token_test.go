package telephony

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenIssuer(t *testing.T) {
	iss, err := NewTokenIssuer(TokenConfig{
		AccountSID:   "AC1",
		APIKeySID:    "SK1",
		APIKeySecret: "secret",
		TwiMLAppSID:  "AP1",
		TTL:          time.Hour,
	})
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	now := time.Now()
	tok, err := iss.Issue(now, "u1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if tok.Identity != "agent_u1" {
		t.Fatalf("unexpected identity: %s", tok.Identity)
	}

	var claims accessTokenClaims
	parsed, err := jwt.ParseWithClaims(tok.Token, &claims, func(*jwt.Token) (any, error) { return []byte("secret"), nil })
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Header["cty"] != "twilio-fpa;v=1" {
		t.Fatalf("unexpected header: %v", parsed.Header)
	}
	if claims.Issuer != "SK1" || claims.Subject != "AC1" {
		t.Fatalf("unexpected registered claims: %+v", claims.RegisteredClaims)
	}
	if claims.Grants.Identity != "agent_u1" || claims.Grants.Voice.Outgoing.ApplicationSID != "AP1" || claims.Grants.Voice.Incoming.Allow {
		t.Fatalf("unexpected grants: %+v", claims.Grants)
	}
}

func TestNewTokenIssuerRequiresCredentials(t *testing.T) {
	if _, err := NewTokenIssuer(TokenConfig{AccountSID: "AC1"}); err == nil {
		t.Fatalf("expected error")
	}
}
