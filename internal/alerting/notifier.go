package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// captionLimit is Telegram's maximum photo caption length in characters.
const captionLimit = 1024

// ErrDelivery wraps every failed delivery attempt.
var ErrDelivery = errors.New("delivery failed")

// Notification is one report message with an optional chart image.
type Notification struct {
	Item      string
	Text      string
	Image     []byte
	ImageName string
}

// Notifier delivers notifications to a destination.
type Notifier interface {
	Notify(ctx context.Context, note Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "notify_telegram").Logger(),
	}
}

// Notify sends a photo with caption, or plain text when there is no image.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	var err error
	if len(note.Image) > 0 {
		err = n.sendPhoto(ctx, note)
	} else {
		err = n.sendMessage(ctx, note.Text)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}

	n.logger.Info().Str("item", note.Item).Bool("photo", len(note.Image) > 0).Msg("report delivered (Telegram)")
	return nil
}

func (n *TelegramNotifier) sendMessage(ctx context.Context, text string) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    text,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}
	return n.post(ctx, "sendMessage", "application/json", bytes.NewReader(body))
}

func (n *TelegramNotifier) sendPhoto(ctx context.Context, note Notification) error {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	if err := form.WriteField("chat_id", n.chatID); err != nil {
		return fmt.Errorf("write chat_id: %w", err)
	}
	if err := form.WriteField("caption", truncateRunes(note.Text, captionLimit)); err != nil {
		return fmt.Errorf("write caption: %w", err)
	}
	name := note.ImageName
	if name == "" {
		name = "price_graph.png"
	}
	part, err := form.CreateFormFile("photo", name)
	if err != nil {
		return fmt.Errorf("create photo part: %w", err)
	}
	if _, err := part.Write(note.Image); err != nil {
		return fmt.Errorf("write photo: %w", err)
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	return n.post(ctx, "sendPhoto", form.FormDataContentType(), &body)
}

func (n *TelegramNotifier) post(ctx context.Context, method, contentType string, body io.Reader) error {
	url := fmt.Sprintf("%s/bot%s/%s", n.baseURL, n.botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := n.client.Do(req)
	if err != nil {
		// the URL carries the bot token; keep it out of logs
		var urlErr interface{ Unwrap() error }
		if errors.As(err, &urlErr) {
			err = urlErr.Unwrap()
		}
		return fmt.Errorf("send telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && result.Description != "" {
			return fmt.Errorf("telegram %s status %d: %s", method, resp.StatusCode, result.Description)
		}
		return fmt.Errorf("telegram %s status %d", method, resp.StatusCode)
	}
	if decodeErr == nil && !result.OK {
		return fmt.Errorf("telegram %s returned ok=false: %s", method, result.Description)
	}
	return nil
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

var _ Notifier = (*TelegramNotifier)(nil)
