package handler

import (
	"github.com/gin-gonic/gin"
)

// Handlers groups the HTTP handlers mounted by Register.
type Handlers struct {
	Assignments *AssignmentHandler
	Submissions *SubmissionHandler
	Auth        *AuthHandler
}

// Register mounts the portal routes under group. Every route except token
// issuance sits behind authenticate.
func Register(group *gin.RouterGroup, h Handlers, authenticate gin.HandlerFunc) {
	if h.Auth != nil {
		group.POST("/auth/token", h.Auth.IssueToken)
	}

	secured := group.Group("")
	secured.Use(authenticate)

	assignments := secured.Group("/assignments")
	assignments.POST("", h.Assignments.Create)
	assignments.GET("/teacher", h.Assignments.ListForTeacher)
	assignments.GET("/student", h.Assignments.ListForStudent)
	assignments.GET("/:id", h.Assignments.Get)
	assignments.PUT("/:id", h.Assignments.Update)
	assignments.DELETE("/:id", h.Assignments.Delete)
	assignments.PUT("/:id/status", h.Assignments.TransitionStatus)
	assignments.GET("/:id/submissions", h.Assignments.Submissions)
	assignments.GET("/:id/submissions/export", h.Assignments.ExportSubmissions)

	submissions := secured.Group("/submissions")
	submissions.POST("", h.Submissions.Submit)
	submissions.GET("/my", h.Submissions.ListMine)
	submissions.GET("/:id", h.Submissions.Get)
	submissions.PUT("/:id", h.Submissions.Review)
}
