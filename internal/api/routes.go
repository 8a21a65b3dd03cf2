package api

import (
	"github.com/gin-gonic/gin"

	"schoolattendance/internal/auth"
)

// TokenConfig verifies bearer tokens.
type TokenConfig struct {
	SigningKey string
	Issuer     string
}

// Register mounts the versioned API on r.
func (h *Handler) Register(r gin.IRouter, tc TokenConfig) {
	v1 := r.Group("/v1", auth.Bearer(tc.SigningKey, tc.Issuer))

	teacher := v1.Group("/attendance/teacher", auth.RequireRole(auth.RoleTeacher))
	teacher.GET("/webauthn/register-options", h.registerOptions)
	teacher.POST("/webauthn/register-verify", h.registerVerify)
	teacher.GET("/webauthn/auth-options", h.authOptions)
	teacher.POST("/check-in", h.checkIn)
	teacher.POST("/check-out", h.checkOut)
	teacher.POST("/recovery-check-in", h.recoveryCheckIn)
	teacher.POST("/recovery-check-out", h.recoveryCheckOut)
	teacher.GET("/status", h.status)
	teacher.GET("/history", h.history)

	v1.GET("/geofences", auth.RequireRole(auth.RoleTeacher, auth.RolePrincipal, auth.RoleAdmin), h.listGeofences)

	admin := v1.Group("/geofences", auth.RequireRole(auth.RolePrincipal, auth.RoleAdmin))
	admin.POST("", h.createGeofence)
	admin.GET("/:id", h.getGeofence)
	admin.PUT("/:id", h.updateGeofence)
	admin.DELETE("/:id", h.deleteGeofence)
}

// NoRoute renders unknown paths in the API error shape.
func NoRoute(r *gin.Engine) {
	r.NoRoute(notFound)
}
