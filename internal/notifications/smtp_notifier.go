package notifications

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/wneessen/go-mail"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// RequireTLS refuses relays that do not offer STARTTLS; otherwise it is used when offered.
	RequireTLS bool
}

// SMTPNotifier delivers plain-text mail through an SMTP relay.
type SMTPNotifier struct {
	cfg    SMTPConfig
	dialer net.Dialer
}

func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg}
}

// Send aborts the SMTP conversation when ctx ends, so a send that reported
// a timeout never goes on to reach DATA.
func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	if strings.ContainsAny(msg.To, "\r\n") || strings.ContainsAny(msg.Subject, "\r\n") {
		return fmt.Errorf("smtp: header injection in message")
	}

	m := mail.NewMsg()
	if err := m.From(n.cfg.From); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	conns := &connSet{}

	client, err := mail.NewClient(n.cfg.Host, n.clientOptions(ctx, conns)...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	stop := context.AfterFunc(ctx, conns.closeAll)
	defer stop()

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (n *SMTPNotifier) clientOptions(ctx context.Context, conns *connSet) []mail.Option {
	policy := mail.TLSOpportunistic
	if n.cfg.RequireTLS {
		policy = mail.TLSMandatory
	}

	// the policy option also picks a default port, so the configured port goes after it
	opts := []mail.Option{
		mail.WithTLSPortPolicy(policy),
		mail.WithPort(n.cfg.Port),
		mail.WithDialContextFunc(func(dctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := n.dialer.DialContext(dctx, network, addr)
			if err != nil {
				return nil, err
			}
			if deadline, ok := ctx.Deadline(); ok {
				_ = conn.SetDeadline(deadline)
			}
			conns.add(conn)
			return conn, nil
		}),
	}

	if n.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.cfg.Username),
			mail.WithPassword(n.cfg.Password),
		)
	}
	return opts
}

// connSet tracks the connections opened for one Send so they can be torn down on cancel.
type connSet struct {
	mu    sync.Mutex
	conns []net.Conn
	done  bool
}

func (s *connSet) add(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		_ = c.Close()
		return
	}
	s.conns = append(s.conns, c)
}

func (s *connSet) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.done = true
	for _, c := range s.conns {
		_ = c.Close()
	}
}
