package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"whatsapp-automation/internal/automation"
	"whatsapp-automation/internal/config"
	"whatsapp-automation/internal/models"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL  = "https://graph.facebook.com"
	DefaultLanguage = "en_US"
)

// ErrNotConfigured is returned when no access token or phone number id is set
var ErrNotConfigured error = notConfiguredError{}

type notConfiguredError struct{}

func (notConfiguredError) Error() string   { return "whatsapp: client not configured" }
func (notConfiguredError) Permanent() bool { return true }

// OutboundRecorder persists messages after the provider accepted them
type OutboundRecorder interface {
	RecordOutbound(ctx context.Context, m *models.Message, at time.Time) error
}

// Client talks to the WhatsApp Cloud API and implements automation.Transport
type Client struct {
	BaseURL       string
	Token         string
	PhoneNumberID string
	APIVersion    string

	HTTP     *http.Client
	Recorder OutboundRecorder
	Log      *zap.Logger
}

func NewClient(cfg *config.Config, rec OutboundRecorder, log *zap.Logger) *Client {
	return &Client{
		BaseURL:       DefaultBaseURL,
		Token:         cfg.WhatsAppToken,
		PhoneNumberID: cfg.PhoneNumberID,
		APIVersion:    cfg.WhatsAppAPIVersion,
		HTTP:          &http.Client{Timeout: 15 * time.Second},
		Recorder:      rec,
		Log:           log,
	}
}

// --- Message Structures ---

type GenericMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	RecipientType    string       `json:"recipient_type,omitempty"`
	Text             *TextObj     `json:"text,omitempty"`
	Template         *TemplateObj `json:"template,omitempty"`
}

type TextObj struct {
	Body       string `json:"body"`
	PreviewUrl bool   `json:"preview_url,omitempty"`
}

type TemplateObj struct {
	Name       string         `json:"name"`
	Language   LanguageObj    `json:"language"`
	Components []ComponentObj `json:"components,omitempty"`
}

type LanguageObj struct {
	Code string `json:"code"`
}

type ComponentObj struct {
	Type       string         `json:"type"`
	Parameters []ParameterObj `json:"parameters"`
}

type ParameterObj struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// SendResponse is the body returned by the messages endpoint
type SendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// APIError carries a non-2xx provider response
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp API error: %d - %s", e.StatusCode, e.Body)
}

// Permanent reports whether retrying the same request cannot succeed
func (e *APIError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// --- Helper Functions ---

func (c *Client) sendRequest(ctx context.Context, method, url string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return respBody, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

func (c *Client) messagesURL() string {
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	version := c.APIVersion
	if version == "" {
		version = "v19.0"
	}
	return fmt.Sprintf("%s/%s/%s/messages", base, version, c.PhoneNumberID)
}

// --- Messaging Methods ---

// BuildMessage maps an automation send request onto the Cloud API shape
func BuildMessage(req automation.SendRequest) GenericMessage {
	msg := GenericMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               req.Phone,
	}
	if req.Type == automation.MessageTypeTemplate {
		lang := req.Language
		if lang == "" {
			lang = DefaultLanguage
		}
		msg.Type = "template"
		msg.Template = &TemplateObj{Name: req.Content, Language: LanguageObj{Code: lang}}
		return msg
	}
	msg.Type = "text"
	msg.Text = &TextObj{Body: req.Content}
	return msg
}

func (c *Client) SendRawMessage(ctx context.Context, msg GenericMessage) (string, error) {
	if c.Token == "" || c.PhoneNumberID == "" {
		return "", ErrNotConfigured
	}
	body, err := c.sendRequest(ctx, http.MethodPost, c.messagesURL(), msg)
	if err != nil {
		return "", err
	}
	var out SendResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", fmt.Errorf("send response carried no message id")
	}
	return out.Messages[0].ID, nil
}

// Send delivers req and records the outbound message. A recording failure is
// logged only; the provider already accepted the message.
func (c *Client) Send(ctx context.Context, req automation.SendRequest) (automation.SendReceipt, error) {
	msg := BuildMessage(req)
	id, err := c.SendRawMessage(ctx, msg)
	if err != nil {
		return automation.SendReceipt{}, err
	}

	if c.Recorder != nil {
		content := req.Content
		if msg.Template != nil {
			content = "Template: " + msg.Template.Name
		}
		rec := &models.Message{
			ContactID:         req.ContactID,
			Type:              msg.Type,
			Content:           content,
			ProviderMessageID: id,
			Status:            "sent",
		}
		if err := c.Recorder.RecordOutbound(ctx, rec, time.Now()); err != nil && c.Log != nil {
			c.Log.Warn("Failed to record outbound message",
				zap.Uint("contact_id", req.ContactID),
				zap.String("provider_message_id", id),
				zap.Error(err))
		}
	}
	return automation.SendReceipt{ProviderMessageID: id}, nil
}
