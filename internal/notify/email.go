package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"sync"

	"ojsbot-backend/internal/components/assert"
	"ojsbot-backend/internal/components/telemetry"

	"github.com/jordan-wright/email"
)

const (
	report_email_send = "email.send"
)

type SmtpConfig struct {
	Server       string   `json:"server"`
	Port         int      `json:"port"`
	EmailAddress string   `json:"email_address"`
	Password     string   `json:"password"`
	Recipients   []string `json:"recipients"`
}

func (c SmtpConfig) Configured() bool {
	return c.Server != "" && c.Port > 0 && c.EmailAddress != "" && len(c.Recipients) > 0
}

// Email sends every notification as a plain text mail.
type Email struct {
	config SmtpConfig
	tel    telemetry.API
	wg     sync.WaitGroup
}

func NewEmail(config SmtpConfig, tel telemetry.API) *Email {
	assert.NotNil(tel)
	return &Email{
		config: config,
		tel:    telemetry.NewScopedAPI("notify", tel),
	}
}

func subjectOf(message string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(message), "\n")
	const max = 78
	if len(line) > max {
		line = line[:max]
	}
	return "OJS uploader: " + line
}

// Send delivers the message synchronously.
func (e *Email) Send(message string) error {
	mail := email.NewEmail()
	mail.From = fmt.Sprintf("OJS Uploader <%s>", e.config.EmailAddress)
	mail.To = e.config.Recipients
	mail.Subject = subjectOf(message)
	mail.Text = []byte(message)

	addr := fmt.Sprintf("%s:%d", e.config.Server, e.config.Port)
	err := mail.Send(
		addr,
		smtp.PlainAuth("", e.config.EmailAddress, e.config.Password, e.config.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	return err
}

func (e *Email) Notify(_ context.Context, message string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		err := e.Send(message)
		if err != nil {
			e.tel.ReportWarning(report_email_send, err)
		}
	}()
}

// Wait blocks until every background send has finished.
func (e *Email) Wait() {
	e.wg.Wait()
}
