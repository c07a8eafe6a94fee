package httpgin

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/kirinyoku/eventbook/internal/domain"
)

const principalKey = "principal"

// Claims are issued by the identity provider. Subject is the numeric user id.
type Claims struct {
	Role  domain.Role `json:"role"`
	Email string      `json:"email"`
	Name  string      `json:"name"`
	jwt.RegisteredClaims
}

var errBadToken = errors.New("invalid token")

// ParsePrincipal verifies an HS256 token and returns its caller.
func ParsePrincipal(token string, secret []byte) (domain.Principal, error) {
	var claims Claims

	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return domain.Principal{}, err
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return domain.Principal{}, errBadToken
	}

	if !claims.Role.Valid() {
		return domain.Principal{}, errBadToken
	}

	return domain.Principal{
		UserID: userID,
		Role:   claims.Role,
		Email:  claims.Email,
		Name:   claims.Name,
	}, nil
}

// AuthMiddleware rejects requests without a valid bearer token.
func AuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			abortWithKind(c, http.StatusUnauthorized, kindUnauthenticated, "missing bearer token", nil)
			return
		}

		p, err := ParsePrincipal(strings.TrimSpace(raw), secret)
		if err != nil {
			abortWithKind(c, http.StatusUnauthorized, kindUnauthenticated, "invalid or expired token", nil)
			return
		}

		c.Set(principalKey, p)
		c.Next()
	}
}

func principal(c *gin.Context) domain.Principal {
	p, _ := c.MustGet(principalKey).(domain.Principal)
	return p
}
