package emailsvc

import (
	"fmt"
	"net/http"
	"net/mail"
	"sync"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/jakariadev/institude/core"
)

// sendgridService delivers messages through the SendGrid v3 API, one goroutine per message.
type sendgridService struct {
	client     *sendgrid.Client
	from       *sgmail.Email
	subjPrefix string
	logger     core.Logger
	pending    sync.WaitGroup
}

var _ core.EmailService = (*sendgridService)(nil)

func NewSendgridService(conf *core.Config, logger core.Logger) core.EmailService {
	from := conf.DefaultFromEmail()
	return &sendgridService{
		client:     sendgrid.NewSendClient(conf.SendgridApiKey),
		from:       toSGEmail(from),
		subjPrefix: "[" + conf.AppName + "] ",
		logger:     logger,
	}
}

func (svc *sendgridService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		if !msg.HasRecipients() || !msg.HasContent() {
			continue
		}
		svc.pending.Add(1)
		go func(m *sgmail.SGMailV3) {
			defer svc.pending.Done()
			svc.send(m)
		}(svc.build(*msg))
	}
}

func (svc *sendgridService) Wait() { svc.pending.Wait() }

func (svc *sendgridService) build(msg core.EmailMessage) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = svc.subjPrefix + msg.Subject
	p.AddTos(toSGEmails(msg.To)...)
	if len(msg.Cc) > 0 {
		p.AddCCs(toSGEmails(msg.Cc)...)
	}
	if len(msg.Bcc) > 0 {
		p.AddBCCs(toSGEmails(msg.Bcc)...)
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(svc.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.Body))
	return m
}

func (svc *sendgridService) send(m *sgmail.SGMailV3) {
	res, err := svc.client.Send(m)
	switch {
	case err != nil:
		svc.logger.Error(fmt.Sprintf("sending email: %v", err), err)
	case res.StatusCode >= http.StatusBadRequest:
		svc.logger.Error(fmt.Sprintf("sending email: status %d: %s", res.StatusCode, res.Body))
	default:
		svc.logger.Debug(fmt.Sprintf("email %q sent to %d recipient(s)", m.Personalizations[0].Subject, len(m.Personalizations[0].To)))
	}
}

func toSGEmail(addr mail.Address) *sgmail.Email {
	return sgmail.NewEmail(addr.Name, addr.Address)
}

func toSGEmails(addrs []mail.Address) []*sgmail.Email {
	out := make([]*sgmail.Email, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, toSGEmail(a))
	}
	return out
}
