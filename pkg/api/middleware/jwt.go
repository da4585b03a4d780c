package middleware

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/jordanlanch/callops/pkg/analytics"
	apierrors "github.com/jordanlanch/callops/pkg/api/errors"
	"github.com/jordanlanch/callops/pkg/domain"
)

// Roles carried in the token
const (
	RolePlatformAdmin = "platform_admin"
	RoleAdmin         = "admin"
	RoleMember        = "member"
)

const (
	ctxOrgID = "org_id"
	ctxRole  = "role"
)

// ErrForbidden is returned when the caller may not see the requested scope
var ErrForbidden = errors.New("forbidden")

// Claims represents JWT claims
type Claims struct {
	OrgID string `json:"org_id,omitempty"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateJWT signs a token for orgID and role
func GenerateJWT(orgID, role, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		OrgID: orgID,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateJWT validates a token and returns its claims
func ValidateJWT(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Role == "" {
		return nil, fmt.Errorf("token has no role")
	}
	if claims.OrgID == "" && claims.Role != RolePlatformAdmin {
		return nil, fmt.Errorf("token has no organization")
	}
	return claims, nil
}

// JWTMiddleware authenticates dashboard requests and stores org_id and role
// in the echo context
func JWTMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return apierrors.UnauthorizedError(c, "missing authorization header")
			}

			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				return apierrors.UnauthorizedError(c, "authorization header must be 'Bearer {token}'")
			}

			claims, err := ValidateJWT(token, secret)
			if err != nil {
				return apierrors.UnauthorizedError(c, err.Error())
			}

			c.Set(ctxOrgID, claims.OrgID)
			c.Set(ctxRole, claims.Role)
			return next(c)
		}
	}
}

// Identity returns the caller's organization and role
func Identity(c echo.Context) (orgID, role string) {
	orgID, _ = c.Get(ctxOrgID).(string)
	role, _ = c.Get(ctxRole).(string)
	return orgID, role
}

// IsPlatformAdmin reports whether the caller may act on every tenant
func IsPlatformAdmin(c echo.Context) bool {
	_, role := Identity(c)
	return role == RolePlatformAdmin
}

// CanManageOrg reports whether the caller may trigger work for orgID
func CanManageOrg(c echo.Context, orgID string) bool {
	own, role := Identity(c)
	switch role {
	case RolePlatformAdmin:
		return true
	case RoleAdmin:
		return own == orgID
	default:
		return false
	}
}

// ResolveScope turns the scope and org_id query parameters into an
// aggregation scope. Only platform admins may ask for the global scope or
// for another tenant.
func ResolveScope(c echo.Context, scope, orgID string) (analytics.Scope, error) {
	own, role := Identity(c)

	if scope == "global" {
		if role != RolePlatformAdmin {
			return analytics.Scope{}, ErrForbidden
		}
		return analytics.Global(), nil
	}

	if orgID == "" {
		orgID = own
	}
	if orgID == "" {
		return analytics.Scope{}, domain.NewValidationError("org_id is required")
	}
	if orgID != own && role != RolePlatformAdmin {
		return analytics.Scope{}, ErrForbidden
	}
	return analytics.ForOrg(orgID), nil
}

// RequireRole rejects callers whose role is not listed
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			_, role := Identity(c)
			for _, r := range roles {
				if role == r {
					return next(c)
				}
			}
			return apierrors.ForbiddenError(c, "role "+role+" is not allowed")
		}
	}
}
