// Package notify holds the outbound collaborators: mail delivery, the team
// chat channel and the code host used for profile pull requests.
package notify

import (
	"context"
	"strings"
	"sync"

	"github.com/betagouv/secretariat"
)

// SentMail is a message captured by LogMailer
type SentMail struct {
	To      string
	Subject string
	Body    string
}

// LogMailer writes emails to the logger instead of delivering them and
// keeps the last messages for inspection
type LogMailer struct {
	mu     sync.Mutex
	logger secretariat.Logger
	sent   []SentMail
	limit  int
}

var _ secretariat.Mailer = (*LogMailer)(nil)

func NewLogMailer(logger secretariat.Logger) *LogMailer {
	return &LogMailer{
		logger: logger,
		limit:  100,
	}
}

func (m *LogMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if m.logger != nil {
		m.logger.Info("====== SENDING EMAIL ======", "to", to, "subject", subject)
		m.logger.Debug(strings.TrimSpace(body))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentMail{To: to, Subject: subject, Body: body})
	if len(m.sent) > m.limit {
		m.sent = m.sent[len(m.sent)-m.limit:]
	}
	return nil
}

// Sent returns a copy of the captured messages
func (m *LogMailer) Sent() []SentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMail, len(m.sent))
	copy(out, m.sent)
	return out
}
