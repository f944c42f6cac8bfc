package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"printshop/internal/apperr"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestIssueAndParse(t *testing.T) {
	v, err := NewVerifier("test-secret")
	require.NoError(t, err)

	want := Principal{UserID: uuid.New(), Role: RoleCashier, Phone: "9800000000"}
	token, err := v.Issue(want, time.Hour)
	require.NoError(t, err)

	got, err := v.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, want, *got)
	assert.True(t, got.IsStaff())
}

func TestParseRejects(t *testing.T) {
	v, _ := NewVerifier("test-secret")
	other, _ := NewVerifier("other-secret")

	foreign, err := other.Issue(Principal{UserID: uuid.New()}, time.Hour)
	require.NoError(t, err)
	_, err = v.Parse(foreign)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	expired, err := v.Issue(Principal{UserID: uuid.New()}, -time.Minute)
	require.NoError(t, err)
	_, err = v.Parse(expired)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	noSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{Role: RoleAdmin})
	signed, err := noSubject.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = v.Parse(signed)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestParseDefaultsRole(t *testing.T) {
	v, _ := NewVerifier("test-secret")
	token, err := v.Issue(Principal{UserID: uuid.New()}, time.Hour)
	require.NoError(t, err)

	p, err := v.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, RoleCustomer, p.Role)
	assert.False(t, p.IsStaff())
}

func TestNilPrincipalIsNotStaff(t *testing.T) {
	var p *Principal
	assert.False(t, p.IsStaff())
}

func newRouter(v *Verifier, required bool, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append([]gin.HandlerFunc{Middleware(v, required)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		p := FromContext(c.Request.Context())
		if p == nil {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, p.Role)
	})
	r.GET("/", handlers...)
	return r
}

func do(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddleware(t *testing.T) {
	v, _ := NewVerifier("test-secret")
	staff, _ := v.Issue(Principal{UserID: uuid.New(), Role: RoleStaff}, time.Hour)
	customer, _ := v.Issue(Principal{UserID: uuid.New(), Role: RoleCustomer}, time.Hour)

	optional := newRouter(v, false)
	w := do(optional, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "anonymous", w.Body.String())

	w = do(optional, "Bearer "+customer)
	assert.Equal(t, "customer", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, do(optional, "Bearer garbage").Code)
	assert.Equal(t, http.StatusUnauthorized, do(optional, customer).Code)

	required := newRouter(v, true)
	assert.Equal(t, http.StatusUnauthorized, do(required, "").Code)

	staffOnly := newRouter(v, true, RequireStaff())
	assert.Equal(t, http.StatusForbidden, do(staffOnly, "Bearer "+customer).Code)
	w = do(staffOnly, "Bearer "+staff)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "staff", w.Body.String())
}

func TestRequireRole(t *testing.T) {
	v, _ := NewVerifier("test-secret")
	cashier, _ := v.Issue(Principal{UserID: uuid.New(), Role: RoleCashier}, time.Hour)
	staff, _ := v.Issue(Principal{UserID: uuid.New(), Role: RoleStaff}, time.Hour)

	r := newRouter(v, true, RequireRole(RoleAdmin, RoleCashier))
	assert.Equal(t, http.StatusOK, do(r, "Bearer "+cashier).Code)
	assert.Equal(t, http.StatusForbidden, do(r, "Bearer "+staff).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "").Code)

	var nobody *Principal
	assert.False(t, nobody.HasRole(RoleAdmin))
}
