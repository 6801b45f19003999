// Package handler exposes the subscription CRUD API.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"skywatch/internal/engine"
	"skywatch/internal/model"
	"skywatch/internal/repository"
	"skywatch/pkg/log"
	"skywatch/pkg/utils"
)

// SubscriptionHandler handles subscription CRUD requests
type SubscriptionHandler struct {
	users   repository.UserRepository
	subs    repository.SubscriptionRepository
	devices repository.DeviceRepository
	engine  *engine.Engine
}

// NewSubscriptionHandler creates a new subscription handler
func NewSubscriptionHandler(
	users repository.UserRepository,
	subs repository.SubscriptionRepository,
	devices repository.DeviceRepository,
	eng *engine.Engine,
) *SubscriptionHandler {
	return &SubscriptionHandler{users: users, subs: subs, devices: devices, engine: eng}
}

// subscriptionRequest is the create/delete payload
type subscriptionRequest struct {
	TopicID string        `json:"topicId"`
	Price   int64         `json:"price"`
	Type    model.SubType `json:"type"`
	Filter  string        `json:"filter"`
}

// Get returns the user's subscriptions, creating the user on first
// reference.
// GET /subscription/:userId
func (h *SubscriptionHandler) Get(c *gin.Context) {
	user, err := h.users.GetOrCreate(c.Request.Context(), c.Param("userId"))
	if err != nil {
		log.WithError(err).Error("Failed to load user")
		utils.ErrorResponse(c, http.StatusInternalServerError, "failed to load user")
		return
	}
	utils.SuccessResponse(c, user.Subscriptions)
}

// Create adds a subscription for the user and registers it with the
// matching engine.
// POST /subscription/:userId
func (h *SubscriptionHandler) Create(c *gin.Context) {
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.users.GetOrCreate(c.Request.Context(), c.Param("userId"))
	if err != nil {
		log.WithError(err).Error("Failed to load user")
		utils.ErrorResponse(c, http.StatusInternalServerError, "failed to load user")
		return
	}

	sub := &model.Subscription{
		UserID:  user.ID,
		TopicID: req.TopicID,
		Price:   req.Price,
		Type:    req.Type,
		Filter:  req.Filter,
	}
	if err := h.subs.Create(c.Request.Context(), sub); err != nil {
		if errors.Is(err, model.ErrEmptyTopic) ||
			errors.Is(err, model.ErrFilterRequired) ||
			errors.Is(err, model.ErrFilterTooLong) {
			utils.ErrorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
		log.WithError(err).Error("Failed to store subscription")
		utils.ErrorResponse(c, http.StatusInternalServerError, "failed to store subscription")
		return
	}

	h.engine.AddNew(sub)
	utils.SuccessResponse(c, sub)
}

// Delete removes the user's subscriptions matching the request by value.
// Unknown subscriptions are a no-op.
// DELETE /subscription/:userId
func (h *SubscriptionHandler) Delete(c *gin.Context) {
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.users.GetOrCreate(c.Request.Context(), c.Param("userId"))
	if err != nil {
		log.WithError(err).Error("Failed to load user")
		utils.ErrorResponse(c, http.StatusInternalServerError, "failed to load user")
		return
	}

	sub, err := h.subs.FindMatching(c.Request.Context(), user.ID, req.TopicID, req.Type, req.Price)
	if errors.Is(err, repository.ErrNotFound) {
		// unknown subscription, removal is idempotent
		utils.SuccessResponse(c, gin.H{"removed": 0})
		return
	}
	if err != nil {
		log.WithError(err).Error("Failed to find subscription")
		utils.ErrorResponse(c, http.StatusInternalServerError, "failed to delete subscription")
		return
	}

	if err := h.subs.Delete(c.Request.Context(), sub.ID); err != nil {
		log.WithError(err).Error("Failed to delete subscription")
		utils.ErrorResponse(c, http.StatusInternalServerError, "failed to delete subscription")
		return
	}
	h.engine.Unsubscribe(sub)
	utils.SuccessResponse(c, gin.H{"removed": 1})
}

// deviceRequest is the device registration payload
type deviceRequest struct {
	Name  string `json:"name" binding:"required"`
	Token string `json:"token" binding:"required"`
}

// PutDevice registers or updates a push device for the user.
// PUT /subscription/:userId/device
func (h *SubscriptionHandler) PutDevice(c *gin.Context) {
	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.users.GetOrCreate(c.Request.Context(), c.Param("userId"))
	if err != nil {
		log.WithError(err).Error("Failed to load user")
		utils.ErrorResponse(c, http.StatusInternalServerError, "failed to load user")
		return
	}

	device := &model.Device{UserID: user.ID, Name: req.Name, Token: req.Token}
	if err := h.devices.Upsert(c.Request.Context(), device); err != nil {
		log.WithError(err).Error("Failed to store device")
		utils.ErrorResponse(c, http.StatusInternalServerError, "failed to store device")
		return
	}
	utils.SuccessResponse(c, device)
}

// ListDevices lists the user's registered push devices.
// GET /subscription/:userId/device
func (h *SubscriptionHandler) ListDevices(c *gin.Context) {
	user, err := h.users.GetOrCreate(c.Request.Context(), c.Param("userId"))
	if err != nil {
		log.WithError(err).Error("Failed to load user")
		utils.ErrorResponse(c, http.StatusInternalServerError, "failed to load user")
		return
	}

	devices, err := h.devices.ListByUser(c.Request.Context(), user.ID)
	if err != nil {
		log.WithError(err).Error("Failed to list devices")
		utils.ErrorResponse(c, http.StatusInternalServerError, "failed to list devices")
		return
	}
	utils.SuccessResponse(c, devices)
}

// Count reports the size of the in-memory subscription index.
// GET /subscription/count
func (h *SubscriptionHandler) Count(c *gin.Context) {
	utils.SuccessResponse(c, gin.H{"count": h.engine.SubCount()})
}
