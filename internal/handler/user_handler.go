package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/feedback-desk-api/internal/service"
	"github.com/noah-isme/feedback-desk-api/pkg/response"
)

// UserHandler exposes staff directory endpoints.
type UserHandler struct {
	service *service.UserService
}

// NewUserHandler constructs the handler.
func NewUserHandler(svc *service.UserService) *UserHandler {
	return &UserHandler{service: svc}
}

// ListEmployees godoc
// @Summary List employees
// @Description Active employees with their open assignment counts
// @Tags Users
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /users/employees [get]
func (h *UserHandler) ListEmployees(c *gin.Context) {
	employees, err := h.service.ListEmployees(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, employees, nil)
}
