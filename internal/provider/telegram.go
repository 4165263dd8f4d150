package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// sendMessageRequest is the JSON body of the Bot API sendMessage call.
type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// apiResponse maps the Bot API envelope.
type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// TelegramNotifier delivers notifications through the Telegram Bot API.
// The base URL is injected from config so tests can point to a local mock.
type TelegramNotifier struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewTelegramNotifier(baseURL, token string, timeout time.Duration) *TelegramNotifier {
	return &TelegramNotifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send posts message to chat recipientID and expects 200 OK with ok=true.
func (p *TelegramNotifier) Send(ctx context.Context, recipientID int64, message string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:    recipientID,
		Text:      message,
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", p.baseURL, p.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var apiResp apiResponse
	_ = json.Unmarshal(raw, &apiResp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected telegram status %d: %s", resp.StatusCode, apiResp.Description)
	}
	if !apiResp.OK {
		return fmt.Errorf("telegram rejected message: %s", apiResp.Description)
	}
	return nil
}

// compile-time check that TelegramNotifier implements Notifier
var _ Notifier = (*TelegramNotifier)(nil)
