package telephony

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenConfig holds the Twilio API key used to sign Voice SDK access tokens.
type TokenConfig struct {
	AccountSID   string
	APIKeySID    string
	APIKeySecret string
	TwiMLAppSID  string
	TTL          time.Duration
}

type voiceGrant struct {
	Incoming struct {
		Allow bool `json:"allow"`
	} `json:"incoming"`
	Outgoing struct {
		ApplicationSID string `json:"application_sid"`
	} `json:"outgoing"`
}

type grants struct {
	Identity string     `json:"identity"`
	Voice    voiceGrant `json:"voice"`
}

type accessTokenClaims struct {
	jwt.RegisteredClaims
	Grants grants `json:"grants"`
}

// TokenIssuer mints outgoing-only Voice access tokens for browser agents.
type TokenIssuer struct {
	cfg TokenConfig
}

func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	if cfg.AccountSID == "" || cfg.APIKeySID == "" || cfg.APIKeySecret == "" || cfg.TwiMLAppSID == "" {
		return nil, errors.New("telephony: account sid, api key sid/secret and twiml app sid are required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &TokenIssuer{cfg: cfg}, nil
}

type VoiceToken struct {
	Token     string    `json:"token"`
	Identity  string    `json:"identity"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AgentIdentity is the client identity Twilio reports for a user's browser.
func AgentIdentity(userID string) string { return "agent_" + userID }

func (t *TokenIssuer) Issue(now time.Time, userID string) (VoiceToken, error) {
	if userID == "" {
		return VoiceToken{}, errors.New("telephony: user id required")
	}
	identity := AgentIdentity(userID)
	exp := now.Add(t.cfg.TTL)

	claims := accessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        fmt.Sprintf("%s-%d", t.cfg.APIKeySID, now.Unix()),
			Issuer:    t.cfg.APIKeySID,
			Subject:   t.cfg.AccountSID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	claims.Grants.Identity = identity
	claims.Grants.Voice.Outgoing.ApplicationSID = t.cfg.TwiMLAppSID

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["cty"] = "twilio-fpa;v=1"
	signed, err := tok.SignedString([]byte(t.cfg.APIKeySecret))
	if err != nil {
		return VoiceToken{}, err
	}
	return VoiceToken{Token: signed, Identity: identity, ExpiresAt: exp.UTC()}, nil
}
