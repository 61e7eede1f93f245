package handler

import (
	"net/http"

	"auction-house/services/bidding/helpers"
	"auction-house/utils"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	service IdentityServiceInterface
}

func NewAuthHandler(service IdentityServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// LoginHandler handles POST /auth/login
func (h *AuthHandler) LoginHandler(c *gin.Context) {
	var req helpers.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "LoginHandler", err)
		return
	}

	session, err := h.service.Login(c.Request.Context(), req.Handle, req.PIN)
	if err != nil {
		helpers.RespondError(c, "LoginHandler", err, map[string]any{"handle": req.Handle})
		return
	}

	utils.JSONResponse(c, http.StatusOK, session, "login successful")
	helpers.LogSuccess("LoginHandler", "login successful", map[string]any{"user_id": session.User.UserID})
}

// MeHandler handles GET /me
func (h *AuthHandler) MeHandler(c *gin.Context) {
	user, ok := requireUser(c, "MeHandler")
	if !ok {
		return
	}
	utils.JSONResponse(c, http.StatusOK, user, "user retrieved successfully")
}

// UpdateEmailHandler handles PUT /me/email
func (h *AuthHandler) UpdateEmailHandler(c *gin.Context) {
	user, ok := requireUser(c, "UpdateEmailHandler")
	if !ok {
		return
	}

	var req helpers.UpdateEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "UpdateEmailHandler", err)
		return
	}

	updated, err := h.service.UpdateEmail(c.Request.Context(), user.UserID, req.Email)
	if err != nil {
		helpers.RespondError(c, "UpdateEmailHandler", err, map[string]any{"user_id": user.UserID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, updated, "email updated successfully")
	helpers.LogSuccess("UpdateEmailHandler", "email updated successfully", map[string]any{"user_id": user.UserID})
}

// UpdatePINHandler handles PUT /me/pin
func (h *AuthHandler) UpdatePINHandler(c *gin.Context) {
	user, ok := requireUser(c, "UpdatePINHandler")
	if !ok {
		return
	}

	var req helpers.UpdatePINRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "UpdatePINHandler", err)
		return
	}

	if err := h.service.SetPIN(c.Request.Context(), user.UserID, req.PIN); err != nil {
		helpers.RespondError(c, "UpdatePINHandler", err, map[string]any{"user_id": user.UserID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, nil, "pin updated successfully")
	helpers.LogSuccess("UpdatePINHandler", "pin updated successfully", map[string]any{"user_id": user.UserID})
}

// ListUsersHandler handles GET /users
func (h *AuthHandler) ListUsersHandler(c *gin.Context) {
	users := h.service.ListUsers(c.Request.Context())
	utils.JSONResponse(c, http.StatusOK, users, "users retrieved successfully")
}
