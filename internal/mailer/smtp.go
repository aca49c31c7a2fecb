package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"sync"

	"seqnotify/internal/logging"
)

// SMTPConfig describes the outbound SMTP server.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string // empty disables AUTH
	Password string
	StartTLS bool
}

// SMTPTransport delivers mail through one SMTP server. The connection is
// not shared: each Send runs a full SMTP conversation, and a mutex keeps
// concurrent senders from interleaving on the wire.
type SMTPTransport struct {
	cfg SMTPConfig
	log *slog.Logger

	mu sync.Mutex
}

// NewSMTP returns a transport for the given server. Host is required.
func NewSMTP(cfg SMTPConfig) (*SMTPTransport, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 25
	}
	return &SMTPTransport{
		cfg: cfg,
		log: logging.New("smtp"),
	}, nil
}

// Send implements Transport.
func (t *SMTPTransport) Send(ctx context.Context, from, to, subject, body string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	fromSpec, err := addrSpec(from)
	if err != nil {
		return &PermanentError{fmt.Errorf("sender address %q: %w", from, err)}
	}
	toSpec, err := addrSpec(to)
	if err != nil {
		return &PermanentError{fmt.Errorf("recipient address %q: %w", to, err)}
	}

	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &TransientError{fmt.Errorf("dial %s: %w", addr, err)}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return classify(fmt.Errorf("smtp handshake with %s: %w", addr, err))
	}
	defer c.Close()

	if t.cfg.StartTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return &PermanentError{fmt.Errorf("server %s does not support STARTTLS", addr)}
		}
		if err := c.StartTLS(&tls.Config{ServerName: t.cfg.Host}); err != nil {
			return classify(fmt.Errorf("starttls: %w", err))
		}
	}

	if t.cfg.Username != "" {
		auth := smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
		if err := c.Auth(auth); err != nil {
			return classify(fmt.Errorf("auth as %s: %w", t.cfg.Username, err))
		}
	}

	if err := c.Mail(fromSpec); err != nil {
		return classify(fmt.Errorf("MAIL FROM %s: %w", fromSpec, err))
	}
	if err := c.Rcpt(toSpec); err != nil {
		return classify(fmt.Errorf("RCPT TO %s: %w", toSpec, err))
	}

	w, err := c.Data()
	if err != nil {
		return classify(fmt.Errorf("DATA: %w", err))
	}
	if _, err := w.Write(buildMessage(from, to, subject, body, t.cfg.Host)); err != nil {
		_ = w.Close()
		return &TransientError{fmt.Errorf("write message: %w", err)}
	}
	if err := w.Close(); err != nil {
		return classify(fmt.Errorf("close message: %w", err))
	}

	if err := c.Quit(); err != nil {
		// The server accepted the message; a failed QUIT is not a
		// delivery failure.
		t.log.Debug("quit after accepted message failed", "server", addr, "error", err)
	}
	return nil
}

// classify maps an SMTP error onto the transient/permanent taxonomy:
// 4xx replies are transient, 5xx permanent, anything else (I/O during the
// conversation) transient.
func classify(err error) error {
	var proto *textproto.Error
	if errors.As(err, &proto) {
		if proto.Code >= 500 {
			return &PermanentError{err}
		}
		return &TransientError{err}
	}
	return &TransientError{err}
}
