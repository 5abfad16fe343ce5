package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/referral-backend/internal/middleware"
	"github.com/shinyyama/referral-backend/internal/model"
	"github.com/shinyyama/referral-backend/internal/service"
)

type UserHandler struct {
	svc service.ReferralService
}

func NewUserHandler(svc service.ReferralService) *UserHandler {
	return &UserHandler{svc: svc}
}

type joinRequest struct {
	Email        string  `json:"email"`
	Username     string  `json:"username"`
	Role         string  `json:"role"`
	ReferralCode *string `json:"referralCode"`
}

type UserResponse struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"isActive"`
	ReferralCode string    `json:"referralCode"`
	SponsorID    *string   `json:"sponsorId"`
	CreatedAt    time.Time `json:"createdAt"`
}

func toUserResponse(u *model.User) UserResponse {
	return UserResponse{
		ID:           u.ID,
		Email:        u.Email,
		Username:     u.Username,
		Role:         u.Role,
		IsActive:     u.Active,
		ReferralCode: u.ReferralCode,
		SponsorID:    u.SponsorID,
		CreatedAt:    u.CreatedAt,
	}
}

// Join registers a user, attaching it under the sponsor that owns
// referralCode when one is given.
func (h *UserHandler) Join(c echo.Context) error {
	var req joinRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	uid, _ := c.Get(middleware.ContextUID).(string)
	user, err := h.svc.Join(c.Request().Context(), service.JoinInput{
		ID:           uid,
		Email:        req.Email,
		Username:     req.Username,
		Role:         req.Role,
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, toUserResponse(user))
}

func (h *UserHandler) Me(c echo.Context) error {
	uid, _ := c.Get(middleware.ContextUID).(string)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	user, err := h.svc.Me(c.Request().Context(), uid)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toUserResponse(user))
}
