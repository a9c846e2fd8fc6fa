package notify

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
)

const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

type telegramUpdate struct {
	Message *struct {
		Text string `json:"text"`
		Chat struct {
			Id int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

// StatusFunc renders the current system status for the /status command.
type StatusFunc func() string

const startMessage = `🤖 <b>OJS Uploader</b>

<b>Commands:</b>
/start - show this message
/status - show the system status
/help - show help

Uploads files to OJS journals, packed into zip units, with a text report for every run.`

const helpMessage = `🆘 <b>Help</b>

<b>What can I do?</b>
• download files from direct links
• pack them into size bounded zip units
• upload them to an OJS submission
• write a report for every run

<b>Needed configuration:</b>
1. the journal host
2. username and password
3. the submission id (optional)`

// WebhookHandler answers Telegram bot commands received through the webhook.
// Updates must carry the bot's webhook secret, without one every update is
// refused.
func WebhookHandler(bot *Telegram, status StatusFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		secret := r.Header.Get(secretTokenHeader)
		if bot.webhookSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(bot.webhookSecret)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var update telegramUpdate
		err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&update)
		if err != nil {
			http.Error(w, "invalid update", http.StatusBadRequest)
			return
		}
		// telegram retries anything that is not a 200
		w.WriteHeader(http.StatusOK)

		if update.Message == nil {
			return
		}
		chatId := fmt.Sprint(update.Message.Chat.Id)
		command, _, _ := strings.Cut(strings.TrimSpace(update.Message.Text), " ")
		// commands may be addressed to a bot in groups, /status@ojs_bot
		command, _, _ = strings.Cut(command, "@")

		switch command {
		case "/start":
			bot.Send(chatId, startMessage)
		case "/help":
			bot.Send(chatId, helpMessage)
		case "/status":
			bot.Send(chatId, html.EscapeString(status()))
		}
	})
}
