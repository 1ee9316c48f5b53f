package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/assignment-portal-api/internal/dto"
	"github.com/noah-isme/assignment-portal-api/internal/middleware"
	"github.com/noah-isme/assignment-portal-api/internal/models"
	"github.com/noah-isme/assignment-portal-api/internal/repository/memory"
	"github.com/noah-isme/assignment-portal-api/internal/service"
)

func buildPortalRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := memory.New()
	auth := service.NewAuthService(nil, service.AuthConfig{AccessTokenSecret: "test-secret", Issuer: "portal-test", AccessTokenExpiry: time.Hour})
	assignments := service.NewAssignmentService(db.Assignments(), db.Submissions(), nil, nil)
	submissions := service.NewSubmissionService(db.Assignments(), db.Submissions(), nil, nil)
	exports := service.NewExportService(submissions, nil)

	router := gin.New()
	Register(router.Group("/api/v1"), Handlers{
		Assignments: NewAssignmentHandler(assignments, submissions, exports),
		Submissions: NewSubmissionHandler(submissions),
		Auth:        NewAuthHandler(auth),
	}, middleware.JWT(auth))
	return router
}

type portalClient struct {
	t      *testing.T
	router *gin.Engine
}

func (p portalClient) token(userID string, role models.UserRole) string {
	resp := p.do(http.MethodPost, "/api/v1/auth/token", "", fmt.Sprintf(`{"userId":%q,"role":%q}`, userID, role))
	require.Equal(p.t, http.StatusOK, resp.Code, resp.Body.String())
	var token TokenResponse
	require.NoError(p.t, json.Unmarshal(decode(p.t, resp).Data, &token))
	return token.AccessToken
}

func (p portalClient) do(method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req, _ = http.NewRequest(method, path, nil)
	} else {
		req, _ = http.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	p.router.ServeHTTP(w, req)
	return w
}

func TestPortalRoutesEndToEnd(t *testing.T) {
	client := portalClient{t: t, router: buildPortalRouter(t)}
	teacher := client.token("teacher-1", models.RoleTeacher)
	student := client.token("student-1", models.RoleStudent)

	due := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)
	resp := client.do(http.MethodPost, "/api/v1/assignments", teacher, fmt.Sprintf(`{"title":"Lab Report","description":"Pendulum","dueDate":%q}`, due))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var created models.Assignment
	require.NoError(t, json.Unmarshal(decode(t, resp).Data, &created))
	assert.Equal(t, models.AssignmentStatusDraft, created.Status)

	resp = client.do(http.MethodPost, "/api/v1/submissions", student, fmt.Sprintf(`{"assignmentId":%q,"answer":"early"}`, created.ID))
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = client.do(http.MethodPut, "/api/v1/assignments/"+created.ID+"/status", teacher, `{"status":"published"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = client.do(http.MethodGet, "/api/v1/assignments/student", student, "")
	require.Equal(t, http.StatusOK, resp.Code)
	var listing []dto.StudentAssignmentItem
	require.NoError(t, json.Unmarshal(decode(t, resp).Data, &listing))
	require.Len(t, listing, 1)
	assert.False(t, listing[0].HasSubmitted)
	assert.True(t, listing[0].CanSubmit)

	resp = client.do(http.MethodPost, "/api/v1/submissions", student, fmt.Sprintf(`{"assignmentId":%q,"answer":"T = 2.01s"}`, created.ID))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var submission models.Submission
	require.NoError(t, json.Unmarshal(decode(t, resp).Data, &submission))

	resp = client.do(http.MethodPost, "/api/v1/submissions", student, fmt.Sprintf(`{"assignmentId":%q,"answer":"again"}`, created.ID))
	require.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "ALREADY_SUBMITTED", decode(t, resp).Error.Code)

	resp = client.do(http.MethodPut, "/api/v1/submissions/"+submission.ID, student, `{"reviewed":true}`)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = client.do(http.MethodPut, "/api/v1/submissions/"+submission.ID, teacher, `{"reviewed":true,"feedback":"Good"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var reviewed models.Submission
	require.NoError(t, json.Unmarshal(decode(t, resp).Data, &reviewed))
	assert.True(t, reviewed.Reviewed)
	assert.NotNil(t, reviewed.ReviewedAt)

	resp = client.do(http.MethodGet, "/api/v1/assignments/teacher?status=published", teacher, "")
	require.Equal(t, http.StatusOK, resp.Code)
	var owned []dto.TeacherAssignmentItem
	require.NoError(t, json.Unmarshal(decode(t, resp).Data, &owned))
	require.Len(t, owned, 1)
	assert.Equal(t, 1, owned[0].SubmissionCount)

	resp = client.do(http.MethodGet, "/api/v1/assignments/"+created.ID+"/submissions/export", teacher, "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, resp.Body.String(), "student-1")

	resp = client.do(http.MethodDelete, "/api/v1/assignments/"+created.ID, teacher, "")
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = client.do(http.MethodPut, "/api/v1/assignments/"+created.ID+"/status", teacher, `{"status":"completed"}`)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = client.do(http.MethodGet, "/api/v1/submissions/my", student, "")
	require.Equal(t, http.StatusOK, resp.Code)
	var mine []dto.SubmissionWithAssignment
	require.NoError(t, json.Unmarshal(decode(t, resp).Data, &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, models.AssignmentStatusCompleted, mine[0].Assignment.Status)
}

func TestPortalRoutesRequireToken(t *testing.T) {
	client := portalClient{t: t, router: buildPortalRouter(t)}

	resp := client.do(http.MethodGet, "/api/v1/assignments/teacher", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = client.do(http.MethodGet, "/api/v1/submissions/my", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestPortalRoutesTokenRejectsUnknownRole(t *testing.T) {
	client := portalClient{t: t, router: buildPortalRouter(t)}
	resp := client.do(http.MethodPost, "/api/v1/auth/token", "", `{"userId":"u-1","role":"admin"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
