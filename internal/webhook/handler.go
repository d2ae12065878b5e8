// Package webhook receives provider callbacks, queues them and applies them
// to the dispatch log.
package webhook

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"campaign-dispatch/internal/channel"
	"campaign-dispatch/internal/logger"
	"campaign-dispatch/internal/models"
	"campaign-dispatch/internal/repository"

	"github.com/gin-gonic/gin"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	Adapters AdapterSource
	Events   repository.WebhookEventRepository
	Queue    Queue
	log      *slog.Logger
}

func NewHandler(adapters AdapterSource, events repository.WebhookEventRepository, queue Queue, log *slog.Logger) *Handler {
	return &Handler{
		Adapters: adapters,
		Events:   events,
		Queue:    queue,
		log:      logger.OrDefault(log).With("component", "webhook"),
	}
}

// VerifyWebhook answers the subscription handshake of providers that use one.
func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")
	if mode == "" || token == "" {
		c.Status(http.StatusBadRequest)
		return
	}

	id, err := strconv.ParseUint(c.Param("providerId"), 10, 64)
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	_, adapter, err := h.Adapters.AdapterFor(c.Request.Context(), uint(id))
	if err != nil {
		h.log.Warn("webhook verification for unknown provider", "provider_id", id, "error", err)
		c.Status(http.StatusNotFound)
		return
	}
	v, ok := adapter.(channel.Verifier)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}

	if mode == "subscribe" && token == v.VerifyToken() {
		h.log.Info("webhook verified", "provider_id", id)
		c.String(http.StatusOK, challenge)
		return
	}
	c.Status(http.StatusForbidden)
}

// HandleEvent stores the raw callback, queues it and acknowledges. Problems
// with the payload or provider surface during ingestion, never here.
func (h *Handler) HandleEvent(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("providerId"), 10, 64)
	if err != nil {
		h.log.Warn("webhook with invalid provider id", "provider_id", c.Param("providerId"))
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		h.log.Warn("read webhook body", "provider_id", id, "error", err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	ctx := c.Request.Context()
	event := models.WebhookEvent{ProviderID: uint(id), Payload: string(body)}
	if err := h.Events.Create(ctx, &event); err != nil {
		h.log.Error("store webhook event", "provider_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store event"})
		return
	}

	d := Delivery{
		EventID:     event.ID,
		ProviderID:  uint(id),
		ContentType: c.ContentType(),
		Body:        body,
		Query:       c.Request.URL.Query(),
	}
	if err := h.Queue.Publish(ctx, d); err != nil {
		h.log.Error("queue webhook event", "event_id", event.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not queue event"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "queued"})
}
