package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/campusflow/registrar-api/internal/models"
	"github.com/campusflow/registrar-api/internal/service"
	appErrors "github.com/campusflow/registrar-api/pkg/errors"
	"github.com/campusflow/registrar-api/pkg/response"
)

// CourseUploadHandler exposes course selection and approval-queue endpoints.
type CourseUploadHandler struct {
	uploads *service.CourseUploadService
}

// NewCourseUploadHandler constructs CourseUploadHandler.
func NewCourseUploadHandler(uploads *service.CourseUploadService) *CourseUploadHandler {
	return &CourseUploadHandler{uploads: uploads}
}

func uploadFilterFromQuery(c *gin.Context) models.CourseUploadFilter {
	var filter models.CourseUploadFilter
	filter.RegistrationID = c.Query("registrationId")
	filter.StudentID = c.Query("studentId")
	filter.SemesterID = c.Query("semesterId")
	filter.Department = c.Query("department")
	filter.Status = models.ApprovalStatus(strings.ToUpper(c.Query("status")))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")
	return filter
}

// List godoc
// @Summary List course uploads
// @Tags CourseUploads
// @Produce json
// @Param registrationId query string false "Filter by registration"
// @Param studentId query string false "Filter by student"
// @Param semesterId query string false "Filter by semester"
// @Param department query string false "Filter by department"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /course-uploads [get]
func (h *CourseUploadHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter := uploadFilterFromQuery(c)
	if claims.Role == models.RoleStudent {
		filter.StudentID = claims.UserID
	}

	uploads, pagination, err := h.uploads.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, uploads, pagination)
}

// Queue godoc
// @Summary Pending course uploads awaiting a decision
// @Tags CourseUploads
// @Produce json
// @Param semesterId query string false "Filter by semester"
// @Param department query string false "Filter by department"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /course-uploads/queue [get]
func (h *CourseUploadHandler) Queue(c *gin.Context) {
	uploads, pagination, err := h.uploads.ListPending(c.Request.Context(), uploadFilterFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, uploads, pagination)
}

// Get godoc
// @Summary Get course upload detail
// @Tags CourseUploads
// @Produce json
// @Param id path string true "Course upload ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /course-uploads/{id} [get]
func (h *CourseUploadHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	upload, err := h.uploads.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if claims.Role == models.RoleStudent && upload.StudentID != claims.UserID {
		response.Error(c, appErrors.ErrForbidden)
		return
	}
	response.JSON(c, http.StatusOK, upload, nil)
}

// Add godoc
// @Summary Add a course to a registration
// @Description Fails when the parent registration is decided, the course is
// @Description duplicated, or the credit ceiling would be exceeded
// @Tags CourseUploads
// @Accept json
// @Produce json
// @Param payload body service.AddCourseRequest true "Course selection"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /course-uploads [post]
func (h *CourseUploadHandler) Add(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.AddCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	upload, err := h.uploads.Add(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, upload)
}

// Drop godoc
// @Summary Drop a pending course upload
// @Tags CourseUploads
// @Produce json
// @Param id path string true "Course upload ID"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /course-uploads/{id} [delete]
func (h *CourseUploadHandler) Drop(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.uploads.Drop(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Approve godoc
// @Summary Approve a pending course upload
// @Tags CourseUploads
// @Accept json
// @Produce json
// @Param id path string true "Course upload ID"
// @Param payload body service.DecisionRequest false "Decision note"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /course-uploads/{id}/approve [put]
func (h *CourseUploadHandler) Approve(c *gin.Context) {
	h.decide(c, h.uploads.Approve)
}

// Reject godoc
// @Summary Reject a pending course upload
// @Tags CourseUploads
// @Accept json
// @Produce json
// @Param id path string true "Course upload ID"
// @Param payload body service.DecisionRequest false "Decision note"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /course-uploads/{id}/reject [put]
func (h *CourseUploadHandler) Reject(c *gin.Context) {
	h.decide(c, h.uploads.Reject)
}

func (h *CourseUploadHandler) decide(c *gin.Context, fn func(ctx context.Context, id, approverID string, req service.DecisionRequest) (*models.CourseUploadDetail, error)) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.DecisionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
	}

	upload, err := fn(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, upload, nil)
}

// BulkApprove godoc
// @Summary Approve many pending course uploads
// @Description Each id is decided independently; failures never abort the batch
// @Tags CourseUploads
// @Accept json
// @Produce json
// @Param payload body service.BulkApproveRequest true "Upload IDs"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /course-uploads/bulk-approve [post]
func (h *CourseUploadHandler) BulkApprove(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.BulkApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	result, err := h.uploads.BulkApprove(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
