package handler

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/referral-backend/internal/middleware"
	"github.com/shinyyama/referral-backend/internal/referral"
	"github.com/shinyyama/referral-backend/internal/service"
)

const defaultTreeDepth = 3

type ReferralHandler struct {
	svc service.ReferralService
}

func NewReferralHandler(svc service.ReferralService) *ReferralHandler {
	return &ReferralHandler{svc: svc}
}

type TreeEntryResponse struct {
	ID           string  `json:"id"`
	Username     string  `json:"username"`
	Email        string  `json:"email"`
	ReferralCode string  `json:"referralCode"`
	SponsorID    *string `json:"sponsorId"`
	IsActive     bool    `json:"isActive"`
	Level        int     `json:"level"`
}

type TreeResponse struct {
	RootID  *string             `json:"rootId"`
	Depth   int                 `json:"depth"`
	Entries []TreeEntryResponse `json:"entries"`
}

type StatsResponse struct {
	UserID         string         `json:"userId"`
	DirectCount    int            `json:"directCount"`
	TotalTeamSize  int            `json:"totalTeamSize"`
	LevelBreakdown map[string]int `json:"levelBreakdown"`
}

type LinkResponse struct {
	Link string `json:"link"`
	Code string `json:"code"`
}

type OverviewResponse struct {
	TotalUsers         int64 `json:"totalUsers"`
	ActiveUsers        int64 `json:"activeUsers"`
	TotalReferralsMade int64 `json:"totalReferralsMade"`
}

func toTreeResponse(rootID *string, depth int, entries []referral.TreeEntry) TreeResponse {
	resp := TreeResponse{RootID: rootID, Depth: depth, Entries: make([]TreeEntryResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, TreeEntryResponse{
			ID:           e.ID,
			Username:     e.Username,
			Email:        e.Email,
			ReferralCode: e.ReferralCode,
			SponsorID:    e.SponsorID,
			IsActive:     e.Active,
			Level:        e.Level,
		})
	}
	return resp
}

func toStatsResponse(st *referral.Stats) StatsResponse {
	breakdown := make(map[string]int, len(st.LevelBreakdown))
	for level, n := range st.LevelBreakdown {
		breakdown[strconv.Itoa(level)] = n
	}
	return StatsResponse{
		UserID:         st.UserID,
		DirectCount:    st.DirectCount,
		TotalTeamSize:  st.TotalTeamSize,
		LevelBreakdown: breakdown,
	}
}

func parseDepth(c echo.Context) (int, error) {
	raw := c.QueryParam("depth")
	if raw == "" {
		return defaultTreeDepth, nil
	}
	return strconv.Atoi(raw)
}

// Tree returns the caller's downline.
func (h *ReferralHandler) Tree(c echo.Context) error {
	uid, _ := c.Get(middleware.ContextUID).(string)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	depth, err := parseDepth(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "depth must be an integer"))
	}
	entries, err := h.svc.Tree(c.Request().Context(), &uid, depth)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toTreeResponse(&uid, depth, entries))
}

func (h *ReferralHandler) Stats(c echo.Context) error {
	uid, _ := c.Get(middleware.ContextUID).(string)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	st, err := h.svc.Stats(c.Request().Context(), uid)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toStatsResponse(st))
}

func (h *ReferralHandler) Link(c echo.Context) error {
	uid, _ := c.Get(middleware.ContextUID).(string)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	link, err := h.svc.Link(c.Request().Context(), uid)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, LinkResponse{Link: link.Link, Code: link.Code})
}

// AdminTree returns any user's downline, or the whole forest when userId is
// omitted.
func (h *ReferralHandler) AdminTree(c echo.Context) error {
	depth, err := parseDepth(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "depth must be an integer"))
	}
	var rootID *string
	if id := c.QueryParam("userId"); id != "" {
		rootID = &id
	}
	entries, err := h.svc.Tree(c.Request().Context(), rootID, depth)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toTreeResponse(rootID, depth, entries))
}

func (h *ReferralHandler) AdminUserStats(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid id"))
	}
	st, err := h.svc.Stats(c.Request().Context(), id)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toStatsResponse(st))
}

func (h *ReferralHandler) AdminOverview(c echo.Context) error {
	o, err := h.svc.Overview(c.Request().Context())
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, OverviewResponse{
		TotalUsers:         o.TotalUsers,
		ActiveUsers:        o.ActiveUsers,
		TotalReferralsMade: o.TotalReferralsMade,
	})
}

func (h *ReferralHandler) Deactivate(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid id"))
	}
	if err := h.svc.Deactivate(c.Request().Context(), id); err != nil {
		return writeServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func writeServiceError(c echo.Context, err error) error {
	var verr *referral.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", verr.Error()))
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", "user not found"))
	case errors.Is(err, service.ErrEmailTaken),
		errors.Is(err, service.ErrUsernameTaken),
		errors.Is(err, service.ErrAlreadyJoined):
		return c.JSON(http.StatusConflict, NewErrorResponse("conflict", err.Error()))
	case errors.Is(err, service.ErrRoleNotAllowed),
		errors.Is(err, service.ErrInvalidEmail),
		errors.Is(err, service.ErrUsernameMissing):
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", err.Error()))
	case errors.Is(err, referral.ErrCodeExhausted):
		return c.JSON(http.StatusServiceUnavailable, NewErrorResponse("unavailable", err.Error()))
	}
	log.Printf("[handler] %s %s: %v", c.Request().Method, c.Path(), err)
	return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "internal error"))
}
