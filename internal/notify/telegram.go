package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"ojsbot-backend/internal/components/assert"
	"ojsbot-backend/internal/components/telemetry"

	"github.com/go-resty/resty/v2"
)

const (
	report_telegram_send        = "telegram.send"
	report_telegram_set_webhook = "telegram.set-webhook"
)

const telegramApi = "https://api.telegram.org"

// placeholder tokens shipped in example configs
var placeholderTokens = map[string]bool{
	"":                     true,
	"PON_AQUI_TU_TOKEN":    true,
	"TU_TOKEN":             true,
	"YOUR_TOKEN":           true,
	"<telegram_bot_token>": true,
}

type TelegramOptions struct {
	Token       string
	AdminChatId string
	// WebhookSecret is registered with the webhook and expected back in the
	// X-Telegram-Bot-Api-Secret-Token header of every update.
	WebhookSecret string
	// BaseUrl overrides the bot api endpoint, used in tests.
	BaseUrl string
	Tel     telemetry.API
}

// Telegram sends messages through the Telegram Bot API.
type Telegram struct {
	http          *resty.Client
	adminChatId   string
	webhookSecret string
	tel           telemetry.API
	wg            sync.WaitGroup
}

type telegramResponse struct {
	Ok          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		Username string `json:"username"`
	} `json:"result"`
}

// TelegramConfigured reports if the token is usable and an admin chat is set.
func TelegramConfigured(token, adminChatId string) bool {
	return !placeholderTokens[strings.TrimSpace(token)] && strings.TrimSpace(adminChatId) != ""
}

func NewTelegram(opts TelegramOptions) *Telegram {
	assert.NotNil(opts.Tel)
	assert.NotEmptyStr(opts.Token)

	baseUrl := opts.BaseUrl
	if baseUrl == "" {
		baseUrl = telegramApi
	}

	tel := telemetry.NewScopedAPI("notify", opts.Tel)
	client := resty.New()
	client.SetBaseURL(fmt.Sprintf("%s/bot%s", strings.TrimRight(baseUrl, "/"), opts.Token))
	client.SetTimeout(time.Second * 10)
	telemetry.InstrumentResty(client, tel)

	return &Telegram{
		http:          client,
		adminChatId:   opts.AdminChatId,
		webhookSecret: opts.WebhookSecret,
		tel:           tel,
	}
}

func (t *Telegram) call(ctx context.Context, method string, payload any) (telegramResponse, error) {
	var out telegramResponse
	req := t.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&out)
	if payload != nil {
		req.SetBody(payload)
	}
	res, err := req.Post("/" + method)
	if err != nil {
		return out, err
	}
	if res.IsError() || !out.Ok {
		return out, fmt.Errorf("%s: status %d: %s", method, res.StatusCode(), out.Description)
	}
	return out, nil
}

// SendMessage delivers text to a chat synchronously.
func (t *Telegram) SendMessage(ctx context.Context, chatId, text string) error {
	_, err := t.call(ctx, "sendMessage", map[string]any{
		"chat_id":                  chatId,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	return err
}

// Send delivers text to a chat in the background.
func (t *Telegram) Send(chatId, text string) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		err := t.SendMessage(ctx, chatId, text)
		if err != nil {
			t.tel.ReportWarning(report_telegram_send, err, chatId)
		}
	}()
}

// Notify sends the plain text message to the admin chat, it is escaped for
// the HTML parse mode.
func (t *Telegram) Notify(_ context.Context, message string) {
	if t.adminChatId == "" {
		return
	}
	t.Send(t.adminChatId, html.EscapeString(message))
}

// Wait blocks until every background send has finished.
func (t *Telegram) Wait() {
	t.wg.Wait()
}

// SetWebhook points the bot's updates at url.
func (t *Telegram) SetWebhook(ctx context.Context, url string) error {
	payload := map[string]any{
		"url":                  url,
		"drop_pending_updates": true,
	}
	if t.webhookSecret != "" {
		payload["secret_token"] = t.webhookSecret
	}
	_, err := t.call(ctx, "setWebhook", payload)
	if err != nil {
		t.tel.ReportBroken(report_telegram_set_webhook, err, url)
	}
	return err
}

func (t *Telegram) DeleteWebhook(ctx context.Context) error {
	_, err := t.call(ctx, "deleteWebhook", nil)
	return err
}

// Me returns the bot's username, it doubles as a connectivity check.
func (t *Telegram) Me(ctx context.Context) (string, error) {
	res, err := t.call(ctx, "getMe", nil)
	if err != nil {
		return "", err
	}
	return res.Result.Username, nil
}
