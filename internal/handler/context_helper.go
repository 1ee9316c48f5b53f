package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/assignment-portal-api/internal/middleware"
	"github.com/noah-isme/assignment-portal-api/internal/models"
)

func principalFromContext(c *gin.Context) *models.Principal {
	return middleware.Principal(c)
}
