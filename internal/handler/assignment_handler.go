package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/assignment-portal-api/internal/dto"
	"github.com/noah-isme/assignment-portal-api/internal/models"
	appErrors "github.com/noah-isme/assignment-portal-api/pkg/errors"
	"github.com/noah-isme/assignment-portal-api/pkg/response"
)

type assignmentService interface {
	Create(ctx context.Context, principal *models.Principal, req dto.CreateAssignmentRequest) (*models.Assignment, error)
	Get(ctx context.Context, principal *models.Principal, id string) (*models.Assignment, error)
	Update(ctx context.Context, principal *models.Principal, id string, req dto.UpdateAssignmentRequest) (*models.Assignment, error)
	TransitionStatus(ctx context.Context, principal *models.Principal, id string, target models.AssignmentStatus) (*models.Assignment, error)
	Delete(ctx context.Context, principal *models.Principal, id string) error
	ListForTeacher(ctx context.Context, principal *models.Principal, query dto.TeacherAssignmentQuery) ([]dto.TeacherAssignmentItem, error)
	ListForStudent(ctx context.Context, principal *models.Principal) ([]dto.StudentAssignmentItem, error)
}

type assignmentSubmissionLister interface {
	ListForAssignment(ctx context.Context, principal *models.Principal, assignmentID string) ([]models.Submission, error)
}

type rosterExporter interface {
	ExportSubmissions(ctx context.Context, principal *models.Principal, assignmentID string, format dto.ExportFormat) (*dto.ExportFile, error)
}

// AssignmentHandler exposes the assignment lifecycle endpoints.
type AssignmentHandler struct {
	service     assignmentService
	submissions assignmentSubmissionLister
	exporter    rosterExporter
}

// NewAssignmentHandler builds a new handler.
func NewAssignmentHandler(service assignmentService, submissions assignmentSubmissionLister, exporter rosterExporter) *AssignmentHandler {
	return &AssignmentHandler{service: service, submissions: submissions, exporter: exporter}
}

// Create godoc
// @Summary Create a draft assignment
// @Tags Assignments
// @Accept json
// @Produce json
// @Param payload body dto.CreateAssignmentRequest true "Assignment payload"
// @Success 201 {object} response.Envelope
// @Router /assignments [post]
func (h *AssignmentHandler) Create(c *gin.Context) {
	var req dto.CreateAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid assignment payload"))
		return
	}
	assignment, err := h.service.Create(c.Request.Context(), principalFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, assignment)
}

// ListForTeacher godoc
// @Summary List the caller's assignments with submission counts
// @Tags Assignments
// @Produce json
// @Param status query string false "draft, published or completed"
// @Success 200 {object} response.Envelope
// @Router /assignments/teacher [get]
func (h *AssignmentHandler) ListForTeacher(c *gin.Context) {
	var query dto.TeacherAssignmentQuery
	if raw := c.Query("status"); raw != "" {
		status := models.AssignmentStatus(raw)
		query.Status = &status
	}
	items, err := h.service.ListForTeacher(c.Request.Context(), principalFromContext(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.List(c, items, len(items))
}

// ListForStudent godoc
// @Summary List published assignments with the caller's submission state
// @Tags Assignments
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /assignments/student [get]
func (h *AssignmentHandler) ListForStudent(c *gin.Context) {
	items, err := h.service.ListForStudent(c.Request.Context(), principalFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.List(c, items, len(items))
}

// Get godoc
// @Summary Get an assignment
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id} [get]
func (h *AssignmentHandler) Get(c *gin.Context) {
	assignment, err := h.service.Get(c.Request.Context(), principalFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment)
}

// Update godoc
// @Summary Edit an assignment, optionally changing its status
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body dto.UpdateAssignmentRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id} [put]
func (h *AssignmentHandler) Update(c *gin.Context) {
	var req dto.UpdateAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid assignment payload"))
		return
	}
	assignment, err := h.service.Update(c.Request.Context(), principalFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment)
}

// TransitionStatus godoc
// @Summary Publish or complete an assignment
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body dto.TransitionAssignmentRequest true "Target status"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/status [put]
func (h *AssignmentHandler) TransitionStatus(c *gin.Context) {
	var req dto.TransitionAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}
	assignment, err := h.service.TransitionStatus(c.Request.Context(), principalFromContext(c), c.Param("id"), req.Status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, map[string]interface{}{
		"message": "assignment " + string(assignment.Status) + " successfully",
	})
}

// Delete godoc
// @Summary Delete a draft assignment
// @Tags Assignments
// @Param id path string true "Assignment ID"
// @Success 204
// @Router /assignments/{id} [delete]
func (h *AssignmentHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), principalFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Submissions godoc
// @Summary List submissions for an owned assignment
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/submissions [get]
func (h *AssignmentHandler) Submissions(c *gin.Context) {
	items, err := h.submissions.ListForAssignment(c.Request.Context(), principalFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.List(c, items, len(items))
}

// ExportSubmissions godoc
// @Summary Download the submission roster
// @Tags Assignments
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Assignment ID"
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Router /assignments/{id}/submissions/export [get]
func (h *AssignmentHandler) ExportSubmissions(c *gin.Context) {
	file, err := h.exporter.ExportSubmissions(c.Request.Context(), principalFromContext(c), c.Param("id"), dto.ExportFormat(c.Query("format")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}
