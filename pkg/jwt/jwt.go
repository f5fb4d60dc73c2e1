package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claim names embedded in every session token
const (
	ClaimAccountID = "accountId"
	ClaimUsername  = "username"
	ClaimTimestamp = "timestamp"
)

var (
	ErrInvalidSigningMethod = errors.New("unexpected signing method")
	ErrInvalidToken         = errors.New("invalid token")
	ErrTokenExpired         = errors.New("token expired")
	ErrClaimNotFound        = errors.New("claim not found")
	ErrUnknownKey           = errors.New("unknown signing key")
	ErrEmptyKey             = errors.New("signing key is empty")
)

// Claims is the payload of a session token. It carries no exp claim; the
// expiry is Timestamp plus the codec's configured TTL.
type Claims struct {
	jwt.RegisteredClaims
	AccountID string `json:"accountId"`
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
}

// IssuedTime returns the embedded issuance time
func (c *Claims) IssuedTime() time.Time {
	return time.UnixMilli(c.Timestamp)
}

// Key is one HMAC secret in the key ring
type Key struct {
	ID     string
	Secret []byte
}

// TokenCodec signs and verifies session tokens. It never touches an
// external store. Keys are injected at construction and can be rotated at
// runtime; tokens signed by a retired-but-not-removed key keep verifying.
type TokenCodec struct {
	mu       sync.RWMutex
	activeID string
	keys     map[string][]byte

	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// Option customises a TokenCodec
type Option func(*TokenCodec)

// WithClock overrides the time source, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(c *TokenCodec) {
		c.now = now
	}
}

// WithPreviousKeys registers keys accepted for verification only
func WithPreviousKeys(keys ...Key) Option {
	return func(c *TokenCodec) {
		for _, k := range keys {
			if k.ID != "" && len(k.Secret) > 0 {
				c.keys[k.ID] = k.Secret
			}
		}
	}
}

func NewTokenCodec(active Key, ttl time.Duration, issuer string, opts ...Option) (*TokenCodec, error) {
	if len(active.Secret) == 0 {
		return nil, ErrEmptyKey
	}
	if active.ID == "" {
		active.ID = "default"
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}

	c := &TokenCodec{
		activeID: active.ID,
		keys:     map[string][]byte{active.ID: active.Secret},
		ttl:      ttl,
		issuer:   issuer,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// TTL returns the fixed validity window of every token
func (c *TokenCodec) TTL() time.Duration {
	return c.ttl
}

// Sign creates a token for the account. The current time is embedded as
// the timestamp claim.
func (c *TokenCodec) Sign(accountID, username string) (string, error) {
	now := c.now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   c.issuer,
			Subject:  accountID,
			IssuedAt: jwt.NewNumericDate(now),
		},
		AccountID: accountID,
		Username:  username,
		Timestamp: now.UnixMilli(),
	}

	c.mu.RLock()
	kid := c.activeID
	secret := c.keys[kid]
	c.mu.RUnlock()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = kid

	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// Parse verifies signature, issuer and the implicit expiry, returning the
// claims of a valid token
func (c *TokenCodec) Parse(tokenString string) (*Claims, error) {
	claims, err := c.ParseSignature(tokenString)
	if err != nil {
		return nil, err
	}
	if c.now().After(c.expiry(claims)) {
		return nil, ErrTokenExpired
	}
	return claims, nil
}

// ParseSignature verifies signature and issuer but accepts an expired
// token. It answers who a token was issued to, not whether it is valid.
func (c *TokenCodec) ParseSignature(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithTimeFunc(c.now),
		jwt.WithStrictDecoding(),
	)

	token, err := parser.ParseWithClaims(tokenString, &Claims{}, c.keyFunc)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Timestamp <= 0 {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// Verify reports whether the token is authentic and not expired
func (c *TokenCodec) Verify(tokenString string) bool {
	_, err := c.Parse(tokenString)
	return err == nil
}

// Claim decodes a single claim without verifying the signature. It is
// meant for opportunistic lookups; authentication decisions must use
// Verify.
func (c *TokenCodec) Claim(tokenString, field string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return "", fmt.Errorf("%w: %s", ErrClaimNotFound, field)
	}

	raw, ok := claims[field]
	if !ok || raw == nil {
		return "", fmt.Errorf("%w: %s", ErrClaimNotFound, field)
	}

	switch v := raw.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatInt(int64(v), 10), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// ExpiresAt computes timestamp + TTL for a token without verifying it
func (c *TokenCodec) ExpiresAt(tokenString string) (time.Time, error) {
	raw, err := c.Claim(tokenString, ClaimTimestamp)
	if err != nil {
		return time.Time{}, err
	}

	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", ErrClaimNotFound, ClaimTimestamp)
	}

	return time.UnixMilli(ts).Add(c.ttl), nil
}

// Rotate makes key the active signing key. The previous key stays in the
// ring for verification until Retire is called.
func (c *TokenCodec) Rotate(key Key) error {
	if key.ID == "" || len(key.Secret) == 0 {
		return ErrEmptyKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.keys[key.ID] = key.Secret
	c.activeID = key.ID
	return nil
}

// Retire drops a verification key. The active key cannot be retired.
func (c *TokenCodec) Retire(kid string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if kid == c.activeID {
		return fmt.Errorf("cannot retire active key %q", kid)
	}
	if _, ok := c.keys[kid]; !ok {
		return ErrUnknownKey
	}

	delete(c.keys, kid)
	return nil
}

// ActiveKeyID returns the id of the key used by Sign
func (c *TokenCodec) ActiveKeyID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeID
}

func (c *TokenCodec) expiry(claims *Claims) time.Time {
	return claims.IssuedTime().Add(c.ttl)
}

func (c *TokenCodec) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, ErrInvalidSigningMethod
	}

	kid, _ := token.Header["kid"].(string)

	c.mu.RLock()
	defer c.mu.RUnlock()

	if kid == "" {
		kid = c.activeID
	}
	secret, ok := c.keys[kid]
	if !ok {
		return nil, ErrUnknownKey
	}

	return secret, nil
}
