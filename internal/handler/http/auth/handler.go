package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"teamhub-backend/internal/domain"
	authsvc "teamhub-backend/internal/service/auth"
	"teamhub-backend/pkg/response"
)

// Handler handles authentication HTTP requests
type Handler struct {
	authService *authsvc.Service
}

// NewHandler creates a new auth handler
func NewHandler(authService *authsvc.Service) *Handler {
	return &Handler{
		authService: authService,
	}
}

// RegisterRequest represents user registration request
type RegisterRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8,max=72"`
	FirstName string `json:"first_name" binding:"required,min=1,max=100"`
	LastName  string `json:"last_name" binding:"required,min=1,max=100"`
	TeamID    string `json:"team_id" binding:"omitempty,uuid"`
	Role      string `json:"role" binding:"omitempty,oneof=Manager 'Team Leader' Employee"`
}

// LoginRequest represents login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest represents token refresh request
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Register handles user registration
// POST /v1/auth/register
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	var teamID *uuid.UUID
	if req.TeamID != "" {
		id, err := uuid.Parse(req.TeamID)
		if err != nil {
			response.ValidationError(c, "Invalid team ID")
			return
		}
		teamID = &id
	}

	output, err := h.authService.Register(c.Request.Context(), &authsvc.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		TeamID:    teamID,
		Role:      req.Role,
	})

	if err != nil {
		if errors.Is(err, domain.ErrEmailTaken) {
			response.BadRequest(c, "EMAIL_TAKEN", "An account with this email already exists")
			return
		}
		response.InternalError(c, "Failed to register user")
		return
	}

	response.Success(c, http.StatusCreated, output)
}

// Login handles user authentication
// POST /v1/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	output, err := h.authService.Login(c.Request.Context(), &authsvc.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})

	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			response.Unauthorized(c, "Invalid email or password")
			return
		}
		response.InternalError(c, "Failed to log in")
		return
	}

	response.Success(c, http.StatusOK, output)
}

// Refresh handles token renewal
// POST /v1/auth/refresh
func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	output, err := h.authService.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		response.Unauthorized(c, "Invalid refresh token")
		return
	}

	response.Success(c, http.StatusOK, output)
}

// Logout revokes the presented access token
// POST /v1/auth/logout
func (h *Handler) Logout(c *gin.Context) {
	authHeader := c.GetHeader("Authorization")
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		response.Unauthorized(c, "Authorization header required")
		return
	}

	if err := h.authService.Logout(c.Request.Context(), parts[1]); err != nil {
		response.InternalError(c, "Failed to log out")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Logged out successfully",
	})
}
