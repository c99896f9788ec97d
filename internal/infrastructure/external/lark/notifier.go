package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/cash-clearing/internal/application/port"
)

// messageSender is the part of SDKClient the notifier needs
type messageSender interface {
	SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error)
}

// Notifier implements port.Notifier by posting interactive cards to a Lark chat or user
type Notifier struct {
	sender        messageSender
	receiveIDType string
	receiveID     string
	logger        *zap.Logger
}

// NewNotifier creates a Lark notifier for the configured receiver
func NewNotifier(client *SDKClient, cfg Config, logger *zap.Logger) *Notifier {
	return newNotifier(client, cfg, logger)
}

func newNotifier(sender messageSender, cfg Config, logger *zap.Logger) *Notifier {
	idType := cfg.ReceiveIDType
	if idType == "" {
		idType = "chat_id"
	}
	return &Notifier{
		sender:        sender,
		receiveIDType: idType,
		receiveID:     cfg.ReceiveID,
		logger:        logger,
	}
}

// Notify renders n as a card and sends it
func (n *Notifier) Notify(ctx context.Context, msg port.Notification) error {
	if msg.Title == "" {
		return fmt.Errorf("notification title cannot be empty")
	}

	content, err := json.Marshal(buildCard(msg))
	if err != nil {
		return fmt.Errorf("failed to marshal card content: %w", err)
	}

	messageID, err := n.sender.SendMessage(ctx, n.receiveIDType, n.receiveID, "interactive", string(content))
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}

	n.logger.Info("Notification sent",
		zap.String("title", msg.Title),
		zap.String("severity", msg.Severity),
		zap.String("message_id", messageID))
	return nil
}

// card is the Lark interactive card layout
type card struct {
	Config   cardConfig    `json:"config"`
	Header   cardHeader    `json:"header"`
	Elements []cardElement `json:"elements"`
}

type cardConfig struct {
	WideScreenMode bool `json:"wide_screen_mode"`
}

type cardHeader struct {
	Template string   `json:"template"`
	Title    cardText `json:"title"`
}

type cardText struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

type cardElement struct {
	Tag    string      `json:"tag"`
	Text   *cardText   `json:"text,omitempty"`
	Fields []cardField `json:"fields,omitempty"`
}

type cardField struct {
	IsShort bool     `json:"is_short"`
	Text    cardText `json:"text"`
}

// headerTemplates colours the card by severity
var headerTemplates = map[string]string{
	"CRITICAL": "red",
	"HIGH":     "orange",
	"MEDIUM":   "yellow",
	"LOW":      "blue",
	"INFO":     "grey",
}

func buildCard(msg port.Notification) card {
	template, ok := headerTemplates[strings.ToUpper(msg.Severity)]
	if !ok {
		template = "blue"
	}

	c := card{
		Config: cardConfig{WideScreenMode: true},
		Header: cardHeader{
			Template: template,
			Title:    cardText{Tag: "plain_text", Content: msg.Title},
		},
	}

	if msg.Body != "" {
		c.Elements = append(c.Elements, cardElement{
			Tag:  "div",
			Text: &cardText{Tag: "lark_md", Content: msg.Body},
		})
	}

	if len(msg.Fields) > 0 {
		keys := make([]string, 0, len(msg.Fields))
		for k := range msg.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fields := make([]cardField, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, cardField{
				IsShort: true,
				Text:    cardText{Tag: "lark_md", Content: fmt.Sprintf("**%s**\n%s", k, msg.Fields[k])},
			})
		}
		c.Elements = append(c.Elements, cardElement{Tag: "div", Fields: fields})
	}

	return c
}

// Verify interface compliance
var _ port.Notifier = (*Notifier)(nil)
