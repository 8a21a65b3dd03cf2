package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"schoolattendance/internal/attendance"
	"schoolattendance/internal/metrics"
)

var kindStatus = map[attendance.Kind]int{
	attendance.KindNoChallengeFound:  http.StatusBadRequest,
	attendance.KindSignatureInvalid:  http.StatusUnauthorized,
	attendance.KindReplayDetected:    http.StatusUnauthorized,
	attendance.KindOutsideGeofence:   http.StatusForbidden,
	attendance.KindGeofenceUndefined: http.StatusForbidden,
	attendance.KindAlreadyCheckedIn:  http.StatusConflict,
	attendance.KindAlreadyCheckedOut: http.StatusConflict,
	attendance.KindNotCheckedInYet:   http.StatusNotFound,
	attendance.KindAlreadyRegistered: http.StatusConflict,
	attendance.KindNoCredential:      http.StatusNotFound,
	attendance.KindInvalidRecovery:   http.StatusBadRequest,
	attendance.KindNotTeacher:        http.StatusForbidden,
	attendance.KindGeofenceNameTaken: http.StatusConflict,
	attendance.KindInvalidRequest:    http.StatusBadRequest,
	attendance.KindNotFound:          http.StatusNotFound,
	attendance.KindInternal:          http.StatusInternalServerError,
}

// StatusFor maps a failure kind to its HTTP status.
func StatusFor(kind attendance.Kind) int {
	if s, ok := kindStatus[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

const outsideMessage = "You are not within the school premises."

// fail writes err as {"error": {"kind", "message"}} and records the outcome.
// A missing geofence is reported to the caller as outside_geofence.
func fail(c *gin.Context, op string, err error) {
	kind := attendance.KindOf(err)
	metrics.Observe(op, string(kind))

	msg := attendance.MessageOf(err)
	public := kind
	switch kind {
	case attendance.KindGeofenceUndefined:
		public, msg = attendance.KindOutsideGeofence, outsideMessage
	case attendance.KindOutsideGeofence:
		msg = outsideMessage
	case attendance.KindInternal:
		log.Printf("%s failed: %v", op, err)
	}
	c.AbortWithStatusJSON(StatusFor(kind), gin.H{"error": gin.H{"kind": public, "message": msg}})
}

func badRequest(c *gin.Context, op string, err error) {
	fail(c, op, attendance.Invalid(err.Error()))
}
