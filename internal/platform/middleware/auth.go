package middleware

import (
	"crypto/rsa"
	"encoding/base64"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/fu-foo/fhir-sazare/internal/auth"
	"github.com/fu-foo/fhir-sazare/internal/platform/fhir"
)

// principalKey is the echo context key the authenticated principal is
// stored under.
const principalKey = "principal"

// APIKey pairs a client name with its key.
type APIKey struct {
	Name string
	Key  string
}

// BasicUser is a username/password pair for Basic authentication.
type BasicUser struct {
	Username string
	Password string
}

// JWTSettings configures bearer token validation. Exactly one of
// Secret, PublicKeyFile or JWKSURL must be set.
type JWTSettings struct {
	Issuer        string
	Audience      string
	Secret        string
	PublicKeyFile string
	// JWKSURL points at the issuer's RFC 7517 key set endpoint; keys
	// are cached and refetched after a TTL.
	JWKSURL string
}

// AuthConfig configures the authentication middleware.
type AuthConfig struct {
	Enabled   bool
	APIKeys   []APIKey
	BasicAuth []BasicUser
	JWT       *JWTSettings
}

// publicPaths are reachable without credentials.
func isPublicPath(path string) bool {
	switch path {
	case "/", "/health", "/metadata", "/metrics":
		return true
	}
	return strings.HasPrefix(path, "/.well-known/")
}

// Principal returns the authenticated principal for the request, or
// nil when auth is disabled.
func Principal(c echo.Context) *auth.Principal {
	p, _ := c.Get(principalKey).(*auth.Principal)
	return p
}

// SetPrincipal attaches the principal to the request context.
func SetPrincipal(c echo.Context, p *auth.Principal) {
	c.Set(principalKey, p)
}

// Auth authenticates requests with a bearer token (API key first, JWT
// fallback) or Basic credentials, then enforces SMART scopes for JWT
// principals.
func Auth(cfg AuthConfig) echo.MiddlewareFunc {
	var rsaKey *rsa.PublicKey
	var jwks *jwksCache
	if cfg.JWT != nil {
		if cfg.JWT.PublicKeyFile != "" {
			if pem, err := os.ReadFile(cfg.JWT.PublicKeyFile); err == nil {
				rsaKey, _ = jwt.ParseRSAPublicKeyFromPEM(pem)
			}
		}
		if cfg.JWT.JWKSURL != "" {
			jwks = newJWKSCache(cfg.JWT.JWKSURL)
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !cfg.Enabled || isPublicPath(c.Request().URL.Path) {
				return next(c)
			}

			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return unauthorized(c, "Missing Authorization header")
			}

			var principal *auth.Principal
			switch {
			case strings.HasPrefix(header, "Bearer "):
				token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
				p, msg := authenticateBearer(cfg, rsaKey, jwks, token)
				if p == nil {
					return unauthorized(c, msg)
				}
				principal = p
			case strings.HasPrefix(header, "Basic "):
				p, msg := authenticateBasic(cfg, header)
				if p == nil {
					return unauthorized(c, msg)
				}
				principal = p
			default:
				return unauthorized(c, "Invalid Authorization header format. Use 'Bearer <token>' or 'Basic <credentials>'")
			}

			if principal.Method == auth.MethodJWT {
				req := c.Request()
				if rt, action, ok := auth.ResourceAction(req.Method, req.URL.Path); ok {
					if !auth.CheckScope(principal.Scopes, rt, action) {
						outcome := fhir.ErrorOutcome(fhir.IssueForbidden,
							"Insufficient scope for "+rt+"."+action)
						return c.JSON(http.StatusForbidden, outcome)
					}
				}
			}

			SetPrincipal(c, principal)
			return next(c)
		}
	}
}

func unauthorized(c echo.Context, diagnostics string) error {
	return c.JSON(http.StatusUnauthorized, fhir.ErrorOutcome(fhir.IssueForbidden, diagnostics))
}

// authenticateBearer tries configured API keys first, then JWT.
func authenticateBearer(cfg AuthConfig, rsaKey *rsa.PublicKey, jwks *jwksCache, token string) (*auth.Principal, string) {
	for _, key := range cfg.APIKeys {
		if key.Key == token {
			return &auth.Principal{UserID: key.Name, Method: auth.MethodAPIKey}, ""
		}
	}
	if cfg.JWT != nil {
		return authenticateJWT(cfg.JWT, rsaKey, jwks, token)
	}
	return nil, "Invalid API key"
}

func authenticateJWT(settings *JWTSettings, rsaKey *rsa.PublicKey, jwks *jwksCache, token string) (*auth.Principal, string) {
	keyFunc := func(t *jwt.Token) (interface{}, error) {
		if settings.Secret != "" {
			return []byte(settings.Secret), nil
		}
		if jwks != nil {
			kid, _ := t.Header["kid"].(string)
			return jwks.Key(kid)
		}
		if rsaKey != nil {
			return rsaKey, nil
		}
		return nil, jwt.ErrTokenUnverifiable
	}

	opts := []jwt.ParserOption{}
	if settings.Secret != "" {
		opts = append(opts, jwt.WithValidMethods([]string{"HS256"}))
	} else {
		opts = append(opts, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}))
	}
	if settings.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(settings.Issuer))
	}
	if settings.Audience != "" {
		opts = append(opts, jwt.WithAudience(settings.Audience))
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, keyFunc, opts...); err != nil {
		return nil, "Invalid JWT: " + err.Error()
	}

	principal := &auth.Principal{Method: auth.MethodJWT, UserID: "anonymous"}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		principal.UserID = sub
	}
	if scope, ok := claims["scope"].(string); ok {
		principal.Scopes = strings.Fields(scope)
	}
	// SMART launch context carries the patient in a "patient" claim.
	if patient, ok := claims["patient"].(string); ok {
		principal.PatientID = patient
	}
	return principal, ""
}

func authenticateBasic(cfg AuthConfig, header string) (*auth.Principal, string) {
	encoded := strings.TrimSpace(strings.TrimPrefix(header, "Basic "))
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "Invalid Base64 encoding in Basic auth"
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return nil, "Invalid Basic auth format. Expected 'username:password'"
	}
	for _, user := range cfg.BasicAuth {
		if user.Username == parts[0] && user.Password == parts[1] {
			return &auth.Principal{UserID: user.Username, Method: auth.MethodBasic}, ""
		}
	}
	return nil, "Invalid username or password"
}
