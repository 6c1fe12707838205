package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"revguard/internal/logger"
	"revguard/pkg/logging"
)

const actorContext = "actor"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims carried by officer tokens. Subject is the officer id recorded as
// the actor of workflow transitions.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

type AuthConfig struct {
	Secret []byte
	Issuer string
}

// TokenValidator checks HS256 tokens signed with a shared secret.
type TokenValidator struct {
	cfg    AuthConfig
	parser *jwt.Parser
}

func NewTokenValidator(cfg AuthConfig) *TokenValidator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &TokenValidator{cfg: cfg, parser: jwt.NewParser(opts...)}
}

func (v *TokenValidator) Validate(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.cfg.Secret, nil
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, errors.Join(ErrInvalidToken, errors.New("subject is required"))
	}
	return claims, nil
}

// Sign issues a token for subject. Used by tooling and tests.
func (v *TokenValidator) Sign(claims Claims) (string, error) {
	if claims.Issuer == "" {
		claims.Issuer = v.cfg.Issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.cfg.Secret)
}

// AuthMiddleware rejects requests without a valid bearer token and
// records the token subject as the request actor.
func AuthMiddleware(v *TokenValidator, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c, ErrMissingToken)
			return
		}

		claims, err := v.Validate(raw)
		if err != nil {
			log.WarnwCtx(c.Request.Context(), "Token validation failed", "error", err)
			abortUnauthorized(c, ErrInvalidToken)
			return
		}

		c.Set(actorContext, claims.Subject)
		c.Request = c.Request.WithContext(logging.WithActor(c.Request.Context(), claims.Subject))
		c.Next()
	}
}

// Actor returns the authenticated subject, or "" when auth is disabled.
func Actor(c *gin.Context) string {
	return c.GetString(actorContext)
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func abortUnauthorized(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":      err.Error(),
		"error_code": "UNAUTHORIZED",
	})
}
