package notify

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"

	"github.com/betagouv/secretariat"
)

const defaultWebhookTimeout = 5 * time.Second

// SlackWebhook posts plain text messages to an incoming webhook
type SlackWebhook struct {
	url     string
	timeout time.Duration
}

var _ secretariat.NotificationChannel = (*SlackWebhook)(nil)

func NewSlackWebhook(url string, timeout time.Duration) *SlackWebhook {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &SlackWebhook{url: url, timeout: timeout}
}

type slackPayload struct {
	Text string `json:"text"`
}

func (s *SlackWebhook) Post(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	agent := fiber.Post(s.url).
		Timeout(s.timeout).
		JSON(slackPayload{Text: message})

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return errors.Wrap(errs[0], errors.CategoryOperation, "slack webhook request failed")
	}
	if code < fiber.StatusOK || code >= fiber.StatusMultipleChoices {
		return errors.New("slack webhook rejected the message", errors.CategoryOperation).
			WithMetadata(map[string]any{
				"status": code,
				"body":   string(body),
			})
	}
	return nil
}

// LogChannel writes notifications to the logger, used when no webhook is set
type LogChannel struct {
	logger secretariat.Logger
}

var _ secretariat.NotificationChannel = (*LogChannel)(nil)

func NewLogChannel(logger secretariat.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (l *LogChannel) Post(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.logger != nil {
		l.logger.Info("team notification", "message", message)
	}
	return nil
}
