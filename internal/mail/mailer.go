package mail

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	gomail "github.com/wneessen/go-mail"

	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/capsule"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/config"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/errors"
)

// Sender dispatches one rendered notification for a capsule and returns
// the provider-assigned message id.
type Sender interface {
	Send(ctx context.Context, c *capsule.Capsule) (string, error)
}

// SMTPSender delivers capsules through an SMTP provider.
type SMTPSender struct {
	client     *gomail.Client
	from       string
	uploadsDir string
}

// NewSMTPSender validates the mail configuration and builds the SMTP client.
// Fails fast when mandatory credentials are absent.
func NewSMTPSender(cfg *config.Config, uploadsDir string) (*SMTPSender, error) {
	if err := cfg.ValidateMail(); err != nil {
		return nil, errors.NewConfig(err.Error())
	}

	opts := []gomail.Option{
		gomail.WithPort(cfg.SMTPPort),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if cfg.SMTPUsername != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.SMTPUsername),
			gomail.WithPassword(cfg.SMTPPassword),
		)
	}

	client, err := gomail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return nil, errors.NewConfig(fmt.Sprintf("smtp client: %v", err))
	}

	return &SMTPSender{
		client:     client,
		from:       cfg.SMTPFrom,
		uploadsDir: uploadsDir,
	}, nil
}

// Send builds and dispatches the delivery email for one capsule.
func (s *SMTPSender) Send(ctx context.Context, c *capsule.Capsule) (string, error) {
	msg := gomail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return "", fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(c.Contact); err != nil {
		return "", fmt.Errorf("invalid recipient address: %w", err)
	}

	msg.Subject(Subject(c))
	msg.SetMessageID()

	body, err := RenderBody(c)
	if err != nil {
		return "", fmt.Errorf("render body: %w", err)
	}
	msg.SetBodyString(gomail.TypeTextHTML, body)

	if c.AttachmentRef != nil {
		// Refs are stored as bare filenames; resolve under the uploads dir
		// so a crafted ref cannot escape it.
		path := filepath.Join(s.uploadsDir, filepath.Base(*c.AttachmentRef))
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("attachment %s: %w", *c.AttachmentRef, err)
		}
		msg.AttachFile(path)
	}

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return "", err
	}

	return msg.GetMessageID(), nil
}

// Result is the final outcome of a delivery after internal retries.
type Result struct {
	ProviderMessageID string
	Attempts          int
}

// Channel wraps a Sender with the bounded constant-backoff retry policy.
// Retries stay inside the channel: the caller sees only the final outcome,
// so a persistently failing recipient degrades to a reported failure and
// never takes down batch processing.
type Channel struct {
	sender      Sender
	maxAttempts int
	retryDelay  time.Duration
}

// NewChannel creates a delivery channel with the given retry policy.
func NewChannel(sender Sender, maxAttempts int, retryDelay time.Duration) *Channel {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Channel{
		sender:      sender,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
	}
}

// Deliver sends the capsule, retrying up to the configured maximum with a
// constant delay between attempts. Returns a DELIVERY_FAILED error carrying
// the last cause and the attempt count once retries are exhausted; it never
// panics outward.
func (ch *Channel) Deliver(ctx context.Context, c *capsule.Capsule) (*Result, error) {
	var lastErr error
	for attempt := 1; attempt <= ch.maxAttempts; attempt++ {
		id, err := ch.sender.Send(ctx, c)
		if err == nil {
			return &Result{ProviderMessageID: id, Attempts: attempt}, nil
		}

		lastErr = err
		log.Printf("delivery attempt %d/%d for capsule %s (%s) failed: %v",
			attempt, ch.maxAttempts, c.ID, c.Contact, err)

		if attempt == ch.maxAttempts {
			break
		}
		select {
		case <-time.After(ch.retryDelay):
		case <-ctx.Done():
			return nil, errors.NewDelivery(c.ID, attempt, ctx.Err())
		}
	}

	return nil, errors.NewDelivery(c.ID, ch.maxAttempts, lastErr)
}
