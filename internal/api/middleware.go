/**
 * @description
 * Authentication middleware for the payroll-service. User routes carry an RS256 JWT
 * verified against the identity provider's JWKS; internal routes carry a shared
 * secret in the X-Internal-API-Key header.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: token parsing and claim validation.
 */

package api

import (
	"context"
	"crypto/rsa"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const subjectContextKey = contextKey("authSubject")

// InternalAPIKeyHeader carries the shared secret for server-to-server calls.
const InternalAPIKeyHeader = "X-Internal-API-Key"

// AuthConfig configures JWT verification.
type AuthConfig struct {
	JWKSURL  string
	Audience string
	Issuer   string
	// CacheTTL bounds how long fetched signing keys are reused. Defaults to 10 minutes.
	CacheTTL time.Duration
}

// AuthMiddleware validates bearer JWTs and stores the token subject in the request context.
func AuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	keys := newJWKSCache(cfg.JWKSURL, cfg.CacheTTL)

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"})}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			claims := jwt.MapClaims{}
			token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				kid, ok := token.Header["kid"].(string)
				if !ok {
					return nil, fmt.Errorf("kid not found in token header")
				}
				return keys.publicKey(r.Context(), kid)
			})
			if err != nil || !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			subject, err := claims.GetSubject()
			if err != nil || subject == "" {
				http.Error(w, "Subject not found in token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), subjectContextKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SubjectFromContext returns the authenticated token subject.
func SubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(subjectContextKey).(string)
	return subject, ok && subject != ""
}

// InternalAuthMiddleware requires the shared internal API key. Internal routes are
// closed when no key is configured.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredKey == "" {
				http.Error(w, "Internal API is not configured", http.StatusServiceUnavailable)
				return
			}
			provided := r.Header.Get(InternalAPIKeyHeader)
			if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type jwksCache struct {
	url    string
	ttl    time.Duration
	client *http.Client

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func newJWKSCache(url string, ttl time.Duration) *jwksCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &jwksCache{
		url:    url,
		ttl:    ttl,
		client: &http.Client{Timeout: 10 * time.Second},
		keys:   map[string]*rsa.PublicKey{},
	}
}

// publicKey returns the key for kid, refetching the key set when it is stale or
// does not contain kid (key rotation).
func (c *jwksCache) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key, ok := c.keys[kid]; ok && time.Since(c.fetchedAt) < c.ttl {
		return key, nil
	}
	keys, err := c.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch signing keys: %w", err)
	}
	c.keys = keys
	c.fetchedAt = time.Now()

	key, ok := c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("key with kid %s not found", kid)
	}
	return key, nil
}

func (c *jwksCache) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, err
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", k.Kid, err)
		}
		keys[k.Kid] = pub
	}
	return keys, nil
}

// parseRSAPublicKey builds an RSA key from base64url modulus and exponent.
func parseRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}
	var exp uint64
	for _, b := range eb {
		exp = (exp << 8) | uint64(b)
	}
	if exp == 0 {
		return nil, fmt.Errorf("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(exp)}, nil
}
