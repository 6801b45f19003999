package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"skywatch/internal/settings"
	"skywatch/pkg/log"
	"skywatch/pkg/utils"
)

// SettingsHandler handles flip settings requests
type SettingsHandler struct {
	store *settings.Store
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(store *settings.Store) *SettingsHandler {
	return &SettingsHandler{store: store}
}

// Get returns the user's flip settings.
// GET /settings/:userId
func (h *SettingsHandler) Get(c *gin.Context) {
	s, err := h.store.Load(c.Request.Context(), c.Param("userId"))
	if err != nil {
		log.WithError(err).Error("Failed to load settings")
		utils.ErrorResponse(c, http.StatusInternalServerError, "failed to load settings")
		return
	}
	utils.SuccessResponse(c, s)
}

// Put stores the user's flip settings and publishes the change so running
// instances pick it up.
// PUT /settings/:userId
func (h *SettingsHandler) Put(c *gin.Context) {
	var s settings.FlipSettings
	if err := c.ShouldBindJSON(&s); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.store.Save(c.Request.Context(), c.Param("userId"), &s); err != nil {
		log.WithError(err).Error("Failed to store settings")
		utils.ErrorResponse(c, http.StatusInternalServerError, "failed to store settings")
		return
	}
	utils.SuccessResponse(c, &s)
}
