package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/portrait-api/internal/domain"
	jwtinfra "github.com/portrait-api/internal/infrastructure/jwt"
)

func TestRequireScope_NoClaimsInContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	RequireScope(domain.ScopeAdmin)(http.HandlerFunc(okHandler)).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRequireScope_WrongScope(t *testing.T) {
	ctx := WithClaims(context.Background(), &jwtinfra.Claims{Scope: domain.ScopeRegenerate})
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	rr := httptest.NewRecorder()
	RequireScope(domain.ScopeAdmin)(http.HandlerFunc(okHandler)).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "forbidden")
}

func TestRequireScope_CorrectScope(t *testing.T) {
	ctx := context.WithValue(context.Background(), claimsKey, &jwtinfra.Claims{Scope: domain.ScopeAdmin})
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	rr := httptest.NewRecorder()
	RequireScope(domain.ScopeAdmin)(http.HandlerFunc(okHandler)).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireScope_MultipleAllowed(t *testing.T) {
	ctx := WithClaims(context.Background(), &jwtinfra.Claims{Scope: domain.ScopeRegenerate})
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	rr := httptest.NewRecorder()
	RequireScope(domain.ScopeAdmin, domain.ScopeRegenerate)(http.HandlerFunc(okHandler)).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
