// Package notify pushes flag alerts to operator channels. Telegram and
// Bark credentials live in the runtime config store, so notifications
// can be enabled from the dashboard without restarting the daemon.
// Delivery is best-effort: failures are logged, never propagated.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/agentic-c-eda/sentinel/internal/store"
)

const sendTimeout = 10 * time.Second

// Notifier sends alerts through whichever channels are configured.
type Notifier struct {
	db           *store.Store
	client       *http.Client
	log          *log.Logger
	telegramBase string
}

// New returns a notifier over the given store.
func New(db *store.Store) *Notifier {
	return &Notifier{
		db:           db,
		client:       &http.Client{Timeout: sendTimeout},
		log:          log.New(os.Stdout, "[notify] ", log.LstdFlags),
		telegramBase: "https://api.telegram.org",
	}
}

// SendTelegram posts a Markdown message to the configured chat.
// Returns false when Telegram is unconfigured or the send fails.
func (n *Notifier) SendTelegram(message, title string) bool {
	token := n.db.GetConfig("notification_telegram_token", "")
	chatID := n.db.GetConfig("notification_telegram_chat_id", "")
	if token == "" || chatID == "" {
		return false
	}

	body, err := json.Marshal(map[string]string{
		"chat_id":    chatID,
		"text":       fmt.Sprintf("*%s*\n\n%s", title, message),
		"parse_mode": "Markdown",
	})
	if err != nil {
		n.log.Printf("telegram marshal failed: %v", err)
		return false
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.telegramBase, token)
	resp, err := n.client.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		n.log.Printf("telegram send failed: %v", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		n.log.Printf("telegram API returned %d", resp.StatusCode)
		return false
	}
	return true
}

// SendBark fires a Bark push with the given title and body.
func (n *Notifier) SendBark(title, body, group string) bool {
	barkURL := n.db.GetConfig("notification_bark_url", "")
	if barkURL == "" {
		return false
	}
	if group == "" {
		group = "Agent"
	}

	endpoint := fmt.Sprintf("%s/%s/%s?group=%s",
		strings.TrimRight(barkURL, "/"),
		url.PathEscape(title),
		url.PathEscape(body),
		url.QueryEscape(group))

	resp, err := n.client.Get(endpoint)
	if err != nil {
		n.log.Printf("bark send failed: %v", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		n.log.Printf("bark API returned %d", resp.StatusCode)
		return false
	}
	return true
}

// SendAlert pushes a new flag to every configured channel and reports
// per-channel delivery.
func (n *Notifier) SendAlert(flag store.Flag) map[string]bool {
	severity := strings.ToUpper(flag.Severity)
	if severity == "" {
		severity = "WARNING"
	}
	summary := flag.Summary
	if summary == "" {
		summary = "Unknown alert"
	}

	title := fmt.Sprintf("🚨 %s: Security Alert", severity)
	message := fmt.Sprintf("%s\n\nSeverity: %s", summary, severity)

	return map[string]bool{
		"telegram": n.SendTelegram(message, title),
		"bark":     n.SendBark(title, summary, "Agent"),
	}
}

// TestTelegram sends a probe message and reports the outcome for the
// dashboard settings page.
func (n *Notifier) TestTelegram() (bool, string) {
	if n.db.GetConfig("notification_telegram_token", "") == "" {
		return false, "Telegram token not configured"
	}
	if n.db.GetConfig("notification_telegram_chat_id", "") == "" {
		return false, "Telegram chat ID not configured"
	}
	if n.SendTelegram("🔔 Test notification from Agentic C-EDA", "Test Alert") {
		return true, "Telegram notification sent successfully"
	}
	return false, "Failed to send Telegram notification"
}

// TestBark sends a probe push and reports the outcome.
func (n *Notifier) TestBark() (bool, string) {
	if n.db.GetConfig("notification_bark_url", "") == "" {
		return false, "Bark URL not configured"
	}
	if n.SendBark("Agent Test", "Test notification from Agentic C-EDA", "Agent") {
		return true, "Bark notification sent successfully"
	}
	return false, "Failed to send Bark notification"
}
