package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Notification 封装一条预测推送。
type Notification struct {
	Game        string
	GameTime    time.Time
	Model       string
	Forecast    string
	Reasoning   string
	Probability int
	Likelihood  string
	OddsInfo    string
}

// Notifier 定义推送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 推送器。
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
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("game", note.Game).
		Str("model", note.Model).
		Int("probability", note.Probability).
		Msg("预测已推送 (Telegram)")
	return nil
}

const maxReasoning = 600

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Forecast]\n")
	builder.WriteString(fmt.Sprintf("Game: %s\n", note.Game))
	if !note.GameTime.IsZero() {
		builder.WriteString(fmt.Sprintf("First pitch: %s\n", note.GameTime.Format("2006-01-02 15:04 MST")))
	}
	builder.WriteString(fmt.Sprintf("Model: %s\n", note.Model))
	builder.WriteString(fmt.Sprintf("Forecast: %s\n", note.Forecast))
	builder.WriteString(fmt.Sprintf("Probability: %d%%", note.Probability))
	if note.Likelihood != "" {
		builder.WriteString(fmt.Sprintf(" (%s)", note.Likelihood))
	}
	builder.WriteString("\n")
	if note.OddsInfo != "" {
		builder.WriteString(note.OddsInfo)
		if !strings.HasSuffix(note.OddsInfo, "\n") {
			builder.WriteString("\n")
		}
	}
	if note.Reasoning != "" {
		reasoning := note.Reasoning
		if r := []rune(reasoning); len(r) > maxReasoning {
			reasoning = string(r[:maxReasoning]) + "..."
		}
		builder.WriteString(fmt.Sprintf("Reasoning: %s\n", reasoning))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
