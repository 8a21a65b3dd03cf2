// Package api exposes the attendance service over HTTP.
package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/protocol"

	"schoolattendance/internal/attendance"
	"schoolattendance/internal/auth"
	"schoolattendance/internal/credential"
	"schoolattendance/internal/geofence"
	"schoolattendance/internal/metrics"
)

// Handler serves the attendance and geofence routes.
type Handler struct {
	svc       *attendance.Service
	geofences *geofence.Store
}

func NewHandler(svc *attendance.Service, geofences *geofence.Store) *Handler {
	return &Handler{svc: svc, geofences: geofences}
}

type location struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

func (l location) point() geofence.Point {
	return geofence.Point{Lat: *l.Latitude, Lon: *l.Longitude}
}

type assertionBody struct {
	ID                protocol.URLEncodedBase64 `json:"id"`
	ClientDataJSON    protocol.URLEncodedBase64 `json:"client_data_json" binding:"required"`
	AuthenticatorData protocol.URLEncodedBase64 `json:"authenticator_data" binding:"required"`
	Signature         protocol.URLEncodedBase64 `json:"signature" binding:"required"`
}

type presenceRequest struct {
	Credential assertionBody `json:"credential" binding:"required"`
	Location   location      `json:"location" binding:"required"`
}

type recoveryRequest struct {
	Code     string   `json:"code" binding:"required"`
	Location location `json:"location" binding:"required"`
	Reason   string   `json:"reason"`
}

type registerRequest struct {
	CredentialID   protocol.URLEncodedBase64 `json:"credential_id" binding:"required"`
	PublicKey      protocol.URLEncodedBase64 `json:"public_key" binding:"required"`
	Counter        uint32                    `json:"counter"`
	Transports     []string                  `json:"transports"`
	ClientDataJSON protocol.URLEncodedBase64 `json:"client_data_json" binding:"required"`
}

type geofenceRequest struct {
	Name        string             `json:"name" binding:"required"`
	Coordinates []geofence.Polygon `json:"coordinates" binding:"required"`
}

func teacherID(c *gin.Context) string {
	claims, _ := auth.ClaimsFrom(c)
	return claims.Subject
}

func (h *Handler) registerOptions(c *gin.Context) {
	opts, err := h.svc.RegisterOptions(c.Request.Context(), teacherID(c))
	if err != nil {
		fail(c, "register_options", err)
		return
	}
	metrics.Observe("register_options", "")
	c.JSON(http.StatusOK, opts)
}

func (h *Handler) registerVerify(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "register_verify", err)
		return
	}
	cred, err := h.svc.RegisterVerify(c.Request.Context(), teacherID(c), attendance.RegistrationRequest{
		CredentialID:   req.CredentialID,
		PublicKey:      req.PublicKey,
		Counter:        req.Counter,
		Transports:     strings.Join(req.Transports, ","),
		ClientDataJSON: req.ClientDataJSON,
	})
	if err != nil {
		fail(c, "register_verify", err)
		return
	}
	metrics.Observe("register_verify", "")
	c.JSON(http.StatusCreated, gin.H{
		"ok":            true,
		"message":       "Device registered successfully.",
		"credential_id": protocol.URLEncodedBase64(cred.CredentialID),
	})
}

func (h *Handler) authOptions(c *gin.Context) {
	opts, err := h.svc.AuthOptions(c.Request.Context(), teacherID(c))
	if err != nil {
		fail(c, "auth_options", err)
		return
	}
	metrics.Observe("auth_options", "")
	c.JSON(http.StatusOK, opts)
}

func (h *Handler) checkIn(c *gin.Context) {
	var req presenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "check_in", err)
		return
	}
	rec, err := h.svc.CheckIn(c.Request.Context(), teacherID(c), toAssertion(req.Credential), req.Location.point())
	if err != nil {
		fail(c, "check_in", err)
		return
	}
	metrics.Observe("check_in", "")
	c.JSON(http.StatusOK, gin.H{"message": "Check-in successful.", "check_in_time": rec.CheckInTime})
}

func (h *Handler) checkOut(c *gin.Context) {
	var req presenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "check_out", err)
		return
	}
	rec, err := h.svc.CheckOut(c.Request.Context(), teacherID(c), toAssertion(req.Credential), req.Location.point())
	if err != nil {
		fail(c, "check_out", err)
		return
	}
	metrics.Observe("check_out", "")
	c.JSON(http.StatusOK, gin.H{"message": "Check-out successful.", "check_out_time": rec.CheckOutTime})
}

func (h *Handler) recoveryCheckIn(c *gin.Context) {
	var req recoveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "recovery_check_in", err)
		return
	}
	rec, err := h.svc.RecoveryCheckIn(c.Request.Context(), teacherID(c), req.Code, req.Location.point(), req.Reason)
	if err != nil {
		fail(c, "recovery_check_in", err)
		return
	}
	metrics.Observe("recovery_check_in", "")
	c.JSON(http.StatusOK, gin.H{"message": "Check-in successful using recovery code.", "check_in_time": rec.CheckInTime})
}

func (h *Handler) recoveryCheckOut(c *gin.Context) {
	var req recoveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "recovery_check_out", err)
		return
	}
	rec, err := h.svc.RecoveryCheckOut(c.Request.Context(), teacherID(c), req.Code, req.Location.point(), req.Reason)
	if err != nil {
		fail(c, "recovery_check_out", err)
		return
	}
	metrics.Observe("recovery_check_out", "")
	c.JSON(http.StatusOK, gin.H{"message": "Check-out successful using recovery code.", "check_out_time": rec.CheckOutTime})
}

func (h *Handler) status(c *gin.Context) {
	st, err := h.svc.Status(c.Request.Context(), teacherID(c))
	if err != nil {
		fail(c, "status", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) history(c *gin.Context) {
	recs, err := h.svc.History(c.Request.Context(), teacherID(c), c.Query("from"), c.Query("to"))
	if err != nil {
		fail(c, "history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

func (h *Handler) listGeofences(c *gin.Context) {
	all, err := h.geofences.ListAll(c.Request.Context())
	if err != nil {
		fail(c, "list_geofences", err)
		return
	}
	if all == nil {
		all = []geofence.Geofence{}
	}
	c.JSON(http.StatusOK, gin.H{"geofences": all})
}

func (h *Handler) getGeofence(c *gin.Context) {
	g, err := h.geofences.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "get_geofence", err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *Handler) createGeofence(c *gin.Context) {
	var req geofenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "create_geofence", err)
		return
	}
	g, err := h.geofences.Create(c.Request.Context(), req.Name, req.Coordinates)
	if err != nil {
		fail(c, "create_geofence", err)
		return
	}
	c.JSON(http.StatusCreated, g)
}

func (h *Handler) updateGeofence(c *gin.Context) {
	var req geofenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "update_geofence", err)
		return
	}
	g, err := h.geofences.Update(c.Request.Context(), c.Param("id"), req.Name, req.Coordinates)
	if err != nil {
		fail(c, "update_geofence", err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *Handler) deleteGeofence(c *gin.Context) {
	g, err := h.geofences.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "delete_geofence", err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func toAssertion(b assertionBody) credential.Assertion {
	return credential.Assertion{
		CredentialID:      b.ID,
		ClientDataJSON:    b.ClientDataJSON,
		AuthenticatorData: b.AuthenticatorData,
		Signature:         b.Signature,
	}
}

var errNoRoute = errors.New("no such route")

func notFound(c *gin.Context) {
	fail(c, "route", &attendance.Error{Kind: attendance.KindNotFound, Err: errNoRoute})
}
