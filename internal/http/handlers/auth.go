package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/geocoder89/gearsauth/internal/authflow"
	"github.com/geocoder89/gearsauth/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

type AuthService interface {
	RequestPasswordReset(ctx context.Context, email, origin string)
	ResetPassword(ctx context.Context, id, token, newPassword string) error
	SignIn(ctx context.Context, email, password string) (string, error)
}

type OriginResolver interface {
	Resolve(r *http.Request) string
}

type AuthHandler struct {
	svc     AuthService
	origins OriginResolver
	timeout time.Duration
}

func NewAuthHandler(svc AuthService, origins OriginResolver) *AuthHandler {
	return &AuthHandler{
		svc:     svc,
		origins: origins,
		timeout: 3 * time.Second,
	}
}

type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required,notblank,emailaddr"`
}

type ResetPasswordRequest struct {
	ID       string `json:"id" binding:"required,notblank"`
	Token    string `json:"token" binding:"required,notblank"`
	Password string `json:"password" binding:"required,notblank"`
}

type SignInRequest struct {
	Email    string `json:"email" binding:"required,notblank,emailaddr"`
	Password string `json:"password" binding:"required,notblank"`
}

type SignInResponse struct {
	Token string `json:"token"`
}

// ForgotPassword answers 200 {} for every well-formed request.
func (h *AuthHandler) ForgotPassword(ctx *gin.Context) {
	var req ForgotPasswordRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	h.svc.RequestPasswordReset(cctx, req.Email, h.origins.Resolve(ctx.Request))

	ctx.JSON(http.StatusOK, gin.H{})
}

func (h *AuthHandler) ResetPassword(ctx *gin.Context) {
	var req ResetPasswordRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	err := h.svc.ResetPassword(cctx, req.ID, req.Token, req.Password)

	switch {
	case err == nil:
		ctx.JSON(http.StatusOK, gin.H{})
	case errors.Is(err, authflow.ErrNotFound):
		RespondNotFound(ctx, "User not found.")
	case errors.Is(err, authflow.ErrInvalidToken):
		RespondUnprocessable(ctx, "invalid_token", "Reset link is invalid or has expired.")
	case errors.Is(err, authflow.ErrEmptyInput):
		RespondBadRequest(ctx, "Invalid request body", nil)
	default:
		RespondInternal(ctx, "Could not reset password")
	}
}

func (h *AuthHandler) SignIn(ctx *gin.Context) {
	var req SignInRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	token, err := h.svc.SignIn(cctx, req.Email, req.Password)

	switch {
	case err == nil:
		ctx.JSON(http.StatusOK, SignInResponse{Token: token})
	case errors.Is(err, authflow.ErrNotFound):
		RespondNotFound(ctx, "User not found.")
	case errors.Is(err, authflow.ErrUnauthorized):
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect, or the email is not confirmed.")
	default:
		RespondInternal(ctx, "Could not sign in")
	}
}

// Me echoes the identity carried by the access token.
func (h *AuthHandler) Me(ctx *gin.Context) {
	id, ok := middlewares.UserIDFromContext(ctx)
	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity context")
		return
	}

	email, _ := middlewares.EmailFromContext(ctx)
	role, _ := middlewares.RoleFromContext(ctx)

	ctx.JSON(http.StatusOK, gin.H{
		"id":    id,
		"email": email,
		"role":  role,
	})
}
