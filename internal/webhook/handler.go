package webhook

import (
	"context"
	"net/http"

	"whatsapp-automation/internal/automation"
	"whatsapp-automation/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Store is what the webhook persists into
type Store interface {
	FindOrCreateContactByPhone(ctx context.Context, phone, name string) (*models.Contact, bool, error)
	SaveMessage(ctx context.Context, m *models.Message) (bool, error)
	UpdateMessageStatus(ctx context.Context, providerMessageID, status string) (bool, error)
}

// Automations is the engine surface driven by inbound traffic
type Automations interface {
	OnNewContact(ctx context.Context, contactID uint) (*automation.RunSummary, error)
	OnMessageReceived(ctx context.Context, messageID uint) (*automation.RunSummary, error)
}

type MessageNotifier interface {
	NotifyMessage(msg models.Message)
}

type Handler struct {
	VerifyToken string
	Store       Store
	Engine      Automations
	Notifier    MessageNotifier
	Detached    *automation.Detached
	Log         *zap.Logger
}

func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "" || token == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	if mode != "subscribe" || token != h.VerifyToken {
		c.Status(http.StatusForbidden)
		return
	}
	h.Log.Info("Webhook verified successfully")
	c.String(http.StatusOK, challenge)
}

// HandleMessage stores inbound messages and status callbacks, then hands new
// contacts and messages to the engine off the request path. Storage failures
// are logged and still answered with 200 so the provider does not redeliver.
func (h *Handler) HandleMessage(c *gin.Context) {
	var payload WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.Log.Warn("Error binding webhook JSON", zap.Error(err))
		c.Status(http.StatusBadRequest)
		return
	}

	ctx := c.Request.Context()
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, s := range change.Value.Contacts {
				names[s.WaID] = s.Profile.Name
			}
			for _, m := range change.Value.Messages {
				h.storeInbound(ctx, m, names[m.From])
			}
			for _, st := range change.Value.Statuses {
				if _, err := h.Store.UpdateMessageStatus(ctx, st.ID, st.Status); err != nil {
					h.Log.Error("Error updating message status", zap.String("provider_message_id", st.ID), zap.Error(err))
				}
			}
		}
	}

	c.Status(http.StatusOK)
}

func (h *Handler) storeInbound(ctx context.Context, m InboundMessage, profileName string) {
	contact, created, err := h.Store.FindOrCreateContactByPhone(ctx, m.From, profileName)
	if err != nil {
		h.Log.Error("Error saving contact", zap.String("from", m.From), zap.Error(err))
		return
	}

	msg := models.Message{
		ContactID:         contact.ID,
		Direction:         models.DirectionInbound,
		Type:              m.Type,
		Content:           m.Content(),
		ProviderMessageID: m.ID,
		Status:            "received",
	}
	stored, err := h.Store.SaveMessage(ctx, &msg)
	if err != nil {
		h.Log.Error("Error saving inbound message", zap.String("from", m.From), zap.Error(err))
		return
	}
	if !stored {
		h.Log.Debug("Duplicate inbound message ignored", zap.String("provider_message_id", m.ID))
		return
	}
	h.Log.Info("Received message",
		zap.String("type", m.Type),
		zap.Uint("contact_id", contact.ID),
		zap.Uint("message_id", msg.ID))

	if h.Notifier != nil {
		h.Notifier.NotifyMessage(msg)
	}
	if h.Engine == nil || h.Detached == nil {
		return
	}

	var steps []func(context.Context) (*automation.RunSummary, error)
	if created {
		contactID := contact.ID
		steps = append(steps, func(ctx context.Context) (*automation.RunSummary, error) {
			return h.Engine.OnNewContact(ctx, contactID)
		})
	}
	messageID := msg.ID
	steps = append(steps, func(ctx context.Context) (*automation.RunSummary, error) {
		return h.Engine.OnMessageReceived(ctx, messageID)
	})
	h.Detached.Go("webhook", steps...)
}
