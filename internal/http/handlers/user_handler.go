// User HTTP handlers.
//
// This file exposes REST endpoints for the caller's own account:
//   - GET /me              (resolve or create the account)
//   - PUT /me/preferences  (replace the preference bitset)
//   - PUT /me/profile      (update display name / avatar)
//
// The authenticated subject doubles as the external identity: the first GET
// /me call provisions the account, later calls touch last-active.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/exdrums/hbg-sub001/internal/domain"
)

//
// DTOs
//

// MeResponse is the JSON envelope for the caller's account.
type MeResponse struct {
	User *domain.User `json:"user"`
}

// UpdatePreferencesRequest is the JSON payload for replacing preferences.
// Prefs is a bitset of the known preference flags.
type UpdatePreferencesRequest struct {
	Prefs int64 `json:"prefs"`
}

// UpdateProfileRequest is the JSON payload for updating the caller's profile.
type UpdateProfileRequest struct {
	DisplayName string `json:"display_name" binding:"required,min=1,max=255"`
	AvatarURL   string `json:"avatar_url" binding:"max=512"`
}

//
// Handlers
//

// GetMe godoc
// @ID          getMe
// @Summary     Resolve the caller's account
// @Description Creates the account on first call; later calls refresh last-active.
// @Tags        Users
// @Produce     json
// @Param       X-User-ID   header string true  "Authenticated subject"
// @Param       X-User-Name header string false "Display name used on first login"
// @Success     200 {object} handlers.MeResponse
// @Router      /me [get]
func (h *Handlers) GetMe(c *gin.Context) {
	u, err := h.userSvc.EnsureUser(c.Request.Context(), userID(c), c.GetHeader("X-User-Name"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, MeResponse{User: u})
}

// UpdatePreferences godoc
// @ID          updatePreferences
// @Summary     Replace the caller's notification preferences
// @Tags        Users
// @Accept      json
// @Param       X-User-ID header string true "Authenticated subject"
// @Param       body      body   handlers.UpdatePreferencesRequest true "Preference bitset"
// @Success     204 "Updated"
// @Failure     400 {object} handlers.ErrorResponse "Unknown preference flag"
// @Router      /me/preferences [put]
func (h *Handlers) UpdatePreferences(c *gin.Context) {
	var req UpdatePreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "prefs required")
		return
	}
	ctx := c.Request.Context()
	u, err := h.userSvc.EnsureUser(ctx, userID(c), "")
	if err != nil {
		failErr(c, err)
		return
	}
	if err := h.userSvc.UpdatePreferences(ctx, u.ID, req.Prefs); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// UpdateProfile godoc
// @ID          updateProfile
// @Summary     Update the caller's display name and avatar
// @Tags        Users
// @Accept      json
// @Param       X-User-ID header string true "Authenticated subject"
// @Param       body      body   handlers.UpdateProfileRequest true "Profile fields"
// @Success     204 "Updated"
// @Router      /me/profile [put]
func (h *Handlers) UpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "display_name required")
		return
	}
	ctx := c.Request.Context()
	u, err := h.userSvc.EnsureUser(ctx, userID(c), "")
	if err != nil {
		failErr(c, err)
		return
	}
	if err := h.userSvc.UpdateProfile(ctx, u.ID, req.DisplayName, req.AvatarURL); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
