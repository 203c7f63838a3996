package handler

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/campusflow/registrar-api/internal/middleware"
	"github.com/campusflow/registrar-api/internal/models"
)

func TestRegistrationHandlerStatsRequiresSemester(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRegistrationHandler(nil)

	c, w := newGinContext(http.MethodGet, "/registrations/stats", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "staff-1", Role: models.RoleStaff})

	handler.Stats(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegistrationHandlerOpenRejectsBadPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRegistrationHandler(nil)

	c, w := newGinContext(http.MethodPost, "/registrations", []byte("{"))
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent})

	handler.Open(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegistrationHandlerGetUnauthenticated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRegistrationHandler(nil)

	c, w := newGinContext(http.MethodGet, "/registrations/reg-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "reg-1"}}

	handler.Get(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
