package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "school-attendance"
)

func TestIssueParse(t *testing.T) {
	pair, err := Issue("T1", RoleTeacher, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)
	assert.True(t, pair.RefreshExp.After(pair.AccessExp))

	claims, err := Parse(pair.AccessToken, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, "T1", claims.Subject)
	assert.Equal(t, RoleTeacher, claims.Role)

	_, err = Parse(pair.AccessToken, "other-key", testIssuer)
	assert.Error(t, err)
	_, err = Parse(pair.AccessToken, testKey, "someone-else")
	assert.Error(t, err)
}

func TestParse_Expired(t *testing.T) {
	pair, err := Issue("T1", RoleTeacher, testIssuer, testKey, -time.Minute, time.Hour)
	require.NoError(t, err)
	_, err = Parse(pair.AccessToken, testKey, testIssuer)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/", Bearer(testKey, testIssuer))
	g.GET("/teacher", RequireRole(RoleTeacher), func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.String(http.StatusOK, claims.Subject)
	})
	g.GET("/admin", RequireRole(RolePrincipal, RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	teacher, err := Issue("T1", RoleTeacher, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)
	principal, err := Issue("P1", RolePrincipal, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name, path, token string
		want              int
	}{
		{"no token", "/teacher", "", http.StatusUnauthorized},
		{"garbage token", "/teacher", "abc", http.StatusUnauthorized},
		{"teacher on teacher route", "/teacher", teacher.AccessToken, http.StatusOK},
		{"principal on teacher route", "/teacher", principal.AccessToken, http.StatusForbidden},
		{"teacher on admin route", "/admin", teacher.AccessToken, http.StatusForbidden},
		{"principal on admin route", "/admin", principal.AccessToken, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "T1", w.Body.String())
			}
		})
	}
}
