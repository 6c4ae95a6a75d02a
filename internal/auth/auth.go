// Package auth is the identity boundary: the core asks a Provider for the
// current idToken and email and never handles credentials itself.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"bilancio/internal/cache"
	"bilancio/internal/core"
)

var ErrUnauthenticated = errors.New("not signed in")

type Identity struct {
	IDToken string
	Email   string
}

type Provider interface {
	Identity(ctx context.Context) (Identity, error)
}

// Static always returns the same identity.
type Static struct {
	ID Identity
}

func (s Static) Identity(context.Context) (Identity, error) {
	if !core.ValidEmail(s.ID.Email) {
		return Identity{}, ErrUnauthenticated
	}
	return Identity{IDToken: s.ID.IDToken, Email: core.NormalizeEmail(s.ID.Email)}, nil
}

// TokenSource returns the raw id token of the signed-in user.
type TokenSource func(ctx context.Context) (string, error)

// JWTProvider verifies an HS256 id token and reads the email claim.
type JWTProvider struct {
	secret []byte
	source TokenSource
}

func NewJWTProvider(secret string, source TokenSource) *JWTProvider {
	return &JWTProvider{secret: []byte(secret), source: source}
}

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func (p *JWTProvider) Identity(ctx context.Context) (Identity, error) {
	raw, err := p.source(ctx)
	if err != nil {
		return Identity{}, fmt.Errorf("fetch id token: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		return Identity{}, ErrUnauthenticated
	}

	var c claims
	_, err = jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !core.ValidEmail(c.Email) {
		return Identity{}, fmt.Errorf("%w: token has no email claim", ErrUnauthenticated)
	}
	return Identity{IDToken: raw, Email: core.NormalizeEmail(c.Email)}, nil
}

// Cached remembers the identity of next for ttl. Concurrent misses share a
// single call to next.
type Cached struct {
	next  Provider
	cache *cache.LRUCache[Identity]
	group singleflight.Group
}

const identityKey = "identity"

func NewCached(next Provider, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: cache.NewLRUCache[Identity](1, ttl)}
}

func (c *Cached) Identity(ctx context.Context) (Identity, error) {
	if id, ok := c.cache.Get(identityKey); ok {
		return id, nil
	}
	v, err, _ := c.group.Do(identityKey, func() (any, error) {
		id, err := c.next.Identity(ctx)
		if err != nil {
			return Identity{}, err
		}
		c.cache.Set(identityKey, id)
		return id, nil
	})
	if err != nil {
		return Identity{}, err
	}
	return v.(Identity), nil
}

// Invalidate forgets the cached identity, e.g. after sign out.
func (c *Cached) Invalidate() {
	c.cache.Delete(identityKey)
}

// Cleaner exposes the underlying cache for periodic cleanup.
func (c *Cached) Cleaner() cache.Cleaner { return c.cache }
