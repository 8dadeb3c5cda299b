package api

import (
	"context"
	"encoding/csv"
	"net/http"
	"strconv"
	"strings"
	"time"

	"whatsapp-automation/internal/automation"
	"whatsapp-automation/internal/models"
	"whatsapp-automation/internal/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewContactRunner fires new-contact automations
type NewContactRunner interface {
	OnNewContact(ctx context.Context, contactID uint) (*automation.RunSummary, error)
}

type ContactHandler struct {
	Store    *store.Repo
	Engine   NewContactRunner
	Detached *automation.Detached
	Log      *zap.Logger
}

func NewContactHandler(repo *store.Repo, engine NewContactRunner, detached *automation.Detached, log *zap.Logger) *ContactHandler {
	return &ContactHandler{Store: repo, Engine: engine, Detached: detached, Log: log}
}

func (h *ContactHandler) Register(g *gin.RouterGroup) {
	g.GET("/contacts", h.GetContacts)
	g.POST("/contacts", h.CreateContact)
	g.GET("/contacts/export", h.ExportContacts)
	g.GET("/contacts/:id/messages", h.GetContactMessages)
}

func (h *ContactHandler) GetContacts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	contacts, err := h.Store.ListContacts(c.Request.Context(), limit)
	if err != nil {
		h.Log.Error("List contacts failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, contacts)
}

// CreateContactRequest for adding new contacts
type CreateContactRequest struct {
	Phone    string   `json:"phone" binding:"required"`
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	Notes    string   `json:"notes"`
	Birthday string   `json:"birthday"`
	Tags     []string `json:"tags"`
}

// CreateContact stores the contact and fires new-contact automations off the
// request path.
func (h *ContactHandler) CreateContact(c *gin.Context) {
	var req CreateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	contact := models.Contact{
		Phone: strings.TrimSpace(req.Phone),
		Name:  req.Name,
		Email: req.Email,
		Notes: req.Notes,
		Tags:  req.Tags,
	}
	if req.Birthday != "" {
		b, err := automation.ParseBirthday(req.Birthday)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "birthday must be YYYY-MM-DD or MM-DD"})
			return
		}
		contact.Birthday = b
	}

	ctx := c.Request.Context()
	existing, err := h.Store.GetContactByPhone(ctx, contact.Phone)
	if err != nil {
		h.Log.Error("Lookup contact failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Contact already exists", "id": existing.ID})
		return
	}
	if err := h.Store.CreateContact(ctx, &contact); err != nil {
		h.Log.Error("Create contact failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create contact"})
		return
	}

	if h.Engine != nil && h.Detached != nil {
		id := contact.ID
		h.Detached.Go("new_contact", func(ctx context.Context) (*automation.RunSummary, error) {
			return h.Engine.OnNewContact(ctx, id)
		})
	}
	c.JSON(http.StatusCreated, contact)
}

func (h *ContactHandler) GetContactMessages(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid contact id"})
		return
	}
	msgs, err := h.Store.ListContactMessages(c.Request.Context(), uint(id), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *ContactHandler) ExportContacts(c *gin.Context) {
	contacts, err := h.Store.ListContacts(c.Request.Context(), 10000)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=contacts.csv")
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	w.Write([]string{"Phone", "Name", "Email", "Tags", "Birthday", "Active", "Created At"})
	for _, ct := range contacts {
		birthday := ""
		if ct.Birthday != nil {
			if ct.Birthday.Year() == models.UnknownBirthYear {
				birthday = ct.Birthday.Format("01-02")
			} else {
				birthday = ct.Birthday.Format("2006-01-02")
			}
		}
		w.Write([]string{
			ct.Phone,
			ct.Name,
			ct.Email,
			strings.Join(ct.Tags, ";"),
			birthday,
			strconv.FormatBool(ct.IsActive),
			ct.CreatedAt.Format(time.RFC3339),
		})
	}
	w.Flush()
}
