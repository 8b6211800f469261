package emailsvc

import (
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/jakariadev/institude/core"
)

type consoleService struct {
	defaultFromEmail mail.Address
	subjPrefix       string
	logger           core.Logger
	pending          sync.WaitGroup
}

var _ core.EmailService = (*consoleService)(nil)

// NewConsoleService returns an EmailService that writes the messages to the logs instead of sending them.
func NewConsoleService(conf *core.Config, logger core.Logger) core.EmailService {
	return &consoleService{
		defaultFromEmail: conf.DefaultFromEmail(),
		subjPrefix:       "[" + conf.AppName + "] ",
		logger:           logger,
	}
}

func (svc *consoleService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		if !msg.HasRecipients() || !msg.HasContent() {
			continue
		}
		svc.pending.Add(1)
		go func(msg core.EmailMessage) {
			defer svc.pending.Done()
			svc.logger.Info(svc.render(msg))
		}(*msg)
	}
}

func (svc *consoleService) Wait() { svc.pending.Wait() }

func (svc *consoleService) render(msg core.EmailMessage) string {
	body := new(strings.Builder)

	// Write mail header
	_, _ = fmt.Fprintf(body, "From: %s\r\n", svc.defaultFromEmail.String())
	_, _ = fmt.Fprint(body, "MIME-Version: 1.0\r\n")
	_, _ = fmt.Fprintf(body, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	_, _ = fmt.Fprintf(body, "Subject: %s\r\n", svc.subjPrefix+msg.Subject)
	_, _ = fmt.Fprintf(body, "To: %s\r\n", joinAddresses(msg.To))
	if len(msg.Cc) > 0 {
		_, _ = fmt.Fprintf(body, "CC: %s\r\n", joinAddresses(msg.Cc))
	}
	if len(msg.Bcc) > 0 {
		_, _ = fmt.Fprintf(body, "BCC: %s\r\n", joinAddresses(msg.Bcc))
	}
	_, _ = fmt.Fprint(body, "Content-Type: text/plain; charset=utf-8\r\n\r\n")
	_, _ = fmt.Fprintf(body, "%s\r\n", msg.Body)
	return body.String()
}

func joinAddresses(addrs []mail.Address) string {
	toJoin := make([]string, 0, len(addrs))
	for _, a := range addrs {
		toJoin = append(toJoin, a.String())
	}
	return strings.Join(toJoin, ", ")
}

// ConsoleServiceMock records the messages it would send, synchronously.
type ConsoleServiceMock struct {
	mu           sync.Mutex
	SentMessages []core.EmailMessage
}

var _ core.EmailService = (*ConsoleServiceMock)(nil)

func NewConsoleServiceMock() *ConsoleServiceMock {
	return &ConsoleServiceMock{SentMessages: make([]core.EmailMessage, 0)}
}

func (svc *ConsoleServiceMock) SendMessages(messages ...*core.EmailMessage) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	for _, msg := range messages {
		if msg.HasRecipients() && msg.HasContent() {
			svc.SentMessages = append(svc.SentMessages, *msg)
		}
	}
}

func (svc *ConsoleServiceMock) Wait() {}

// Sent returns a copy of the recorded messages.
func (svc *ConsoleServiceMock) Sent() []core.EmailMessage {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return append([]core.EmailMessage{}, svc.SentMessages...)
}
