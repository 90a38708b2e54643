package middleware

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	pkgerrors "ojtrust/pkg/errors"
	"ojtrust/pkg/utils/contextkey"
	"ojtrust/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const identityKey = "identity"

// AdminRoles lists the roles allowed through admin-only routes.
var AdminRoles = []string{"admin", "super_admin"}

// Identity is the caller resolved from the access token. ID 0 is anonymous.
type Identity struct {
	ID      int64
	Role    string
	GroupID int64
}

// Anonymous reports whether no user is attached.
func (i Identity) Anonymous() bool {
	return i.ID == 0
}

// IsAdmin reports whether the role is administrative.
func (i Identity) IsAdmin() bool {
	return IsAdminRole(i.Role)
}

// IsAdminRole reports whether role is admin or super_admin.
func IsAdminRole(role string) bool {
	return hasRole(role, AdminRoles)
}

// AccessClaims is the JWT payload accepted by the service.
type AccessClaims struct {
	Role      string `json:"role"`
	GroupID   int64  `json:"grp,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 access tokens.
type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// Authenticate parses raw and returns the identity it carries.
func (a *Authenticator) Authenticate(raw string) (Identity, error) {
	if raw == "" || len(a.secret) == 0 {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, pkgerrors.New(pkgerrors.TokenExpired)
		}
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if a.issuer != "" && claims.Issuer != a.issuer {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if claims.TokenType != "access" {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	return Identity{ID: userID, Role: claims.Role, GroupID: claims.GroupID}, nil
}

// AuthPolicy selects how a route group treats missing credentials.
// Mode "optional" lets anonymous callers through; anything else requires a token.
type AuthPolicy struct {
	Mode  string
	Roles []string
}

// AuthMiddleware resolves the caller identity and enforces the policy.
func AuthMiddleware(auth *Authenticator, policy AuthPolicy) gin.HandlerFunc {
	optional := strings.EqualFold(policy.Mode, "optional")
	return func(c *gin.Context) {
		token := extractBearerToken(c.GetHeader("Authorization"))
		if token == "" && optional && len(policy.Roles) == 0 {
			setIdentity(c, Identity{})
			c.Next()
			return
		}
		if auth == nil {
			response.AbortWithErrorCode(c, pkgerrors.ServiceUnavailable, "auth unavailable")
			return
		}
		if token == "" {
			response.AbortWithErrorCode(c, pkgerrors.Unauthorized, "")
			return
		}

		identity, err := auth.Authenticate(token)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		if len(policy.Roles) > 0 && !hasRole(identity.Role, policy.Roles) {
			response.AbortWithErrorCode(c, pkgerrors.PermissionDenied, "insufficient role")
			return
		}

		setIdentity(c, identity)
		c.Next()
	}
}

// IdentityFrom returns the identity stored by AuthMiddleware, or anonymous.
func IdentityFrom(c *gin.Context) Identity {
	if v, ok := c.Get(identityKey); ok {
		if identity, ok := v.(Identity); ok {
			return identity
		}
	}
	return Identity{}
}

func setIdentity(c *gin.Context, identity Identity) {
	c.Set(identityKey, identity)
	if identity.Anonymous() {
		return
	}
	c.Set(string(contextkey.UserID), identity.ID)
	c.Set(string(contextkey.UserRole), identity.Role)
	ctx := context.WithValue(c.Request.Context(), contextkey.UserID, identity.ID)
	ctx = context.WithValue(ctx, contextkey.UserRole, identity.Role)
	c.Request = c.Request.WithContext(ctx)
}

func extractBearerToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func hasRole(role string, allowed []string) bool {
	for _, item := range allowed {
		if strings.EqualFold(role, item) {
			return true
		}
	}
	return false
}
