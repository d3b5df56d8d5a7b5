// Package turnrest mints coturn-compatible ephemeral TURN credentials.
//
// See:
// - https://github.com/coturn/coturn/wiki/turnserver
// - https://datatracker.ietf.org/doc/html/draft-uberti-behave-turn-rest
//
// Algorithm:
//
//	username   = <unix_expiry_timestamp>:<username_prefix>:<connection_handle>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// Expiry uses the server clock in UTC: now_utc_unix + ttl_seconds.
package turnrest

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Generator signs short-lived credentials with a secret shared with the TURN
// server. Safe for concurrent use.
type Generator struct {
	secret []byte
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

type Config struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("shared secret is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	if cfg.UsernamePrefix == "" {
		return nil, errors.New("username prefix is required")
	}
	if strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, errors.New("username prefix must not contain ':'")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Generator{
		secret: []byte(cfg.SharedSecret),
		ttl:    cfg.TTL,
		prefix: cfg.UsernamePrefix,
		now:    now,
	}, nil
}

// Credentials is one signed username/credential pair. The pair stops working
// at ExpiresAt; clients are expected to re-request.
type Credentials struct {
	Username   string
	Credential string
	ExpiresAt  time.Time
}

// Generate signs credentials bound to a connection handle. The handle lands
// in the TURN username, which keeps server-side TURN logs attributable.
func (g *Generator) Generate(connID string) (Credentials, error) {
	if connID == "" {
		return Credentials{}, errors.New("connection id is required")
	}
	if strings.Contains(connID, ":") {
		return Credentials{}, errors.New("connection id must not contain ':'")
	}
	expiry := g.now().UTC().Add(g.ttl)
	username := fmt.Sprintf("%d:%s:%s", expiry.Unix(), g.prefix, connID)
	mac := hmac.New(sha1.New, g.secret)
	mac.Write([]byte(username))
	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		ExpiresAt:  expiry,
	}, nil
}

// GenerateEphemeral signs credentials for a caller with no connection handle
// yet, using a random one-shot id.
func (g *Generator) GenerateEphemeral() (Credentials, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return Credentials{}, err
	}
	return g.Generate(hex.EncodeToString(b[:]))
}
