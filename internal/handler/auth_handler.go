package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/assignment-portal-api/internal/models"
	appErrors "github.com/noah-isme/assignment-portal-api/pkg/errors"
	"github.com/noah-isme/assignment-portal-api/pkg/response"
)

type tokenIssuer interface {
	IssueToken(principal models.Principal) (string, time.Time, error)
}

// IssueTokenRequest names the principal a development token is minted for.
type IssueTokenRequest struct {
	UserID string          `json:"userId" binding:"required"`
	Role   models.UserRole `json:"role" binding:"required"`
}

// TokenResponse carries a signed access token.
type TokenResponse struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// AuthHandler mints access tokens outside production. Deployed stacks rely on
// the upstream identity provider.
type AuthHandler struct {
	issuer tokenIssuer
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(issuer tokenIssuer) *AuthHandler {
	return &AuthHandler{issuer: issuer}
}

// IssueToken godoc
// @Summary Issue a development access token
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body IssueTokenRequest true "Principal"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /auth/token [post]
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid token payload"))
		return
	}
	if !req.Role.Valid() {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "role must be teacher or student"))
		return
	}

	token, expiresAt, err := h.issuer.IssueToken(models.Principal{ID: req.UserID, Role: req.Role})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, TokenResponse{AccessToken: token, TokenType: "Bearer", ExpiresAt: expiresAt})
}
