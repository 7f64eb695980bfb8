package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/fanout/channel"
)

// Message is one outbound email.
type Message struct {
	From        string
	To          string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// Attachment is a file carried with the message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Receipt reports a successful delivery handoff.
type Receipt struct {
	MessageID string   `json:"message_id"`
	Accepted  []string `json:"accepted"`
	Rejected  []string `json:"rejected"`
}

// Transport hands a message to a mail server.
type Transport interface {
	Send(ctx context.Context, msg *Message) (*Receipt, error)
}

// SMTPConfig configures the SMTP transport.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// StartTLS upgrades the connection after EHLO.
	StartTLS bool
	// PoolSize caps live server connections. Default 5.
	PoolSize int
	// DialTimeout bounds connection establishment. Default 10s.
	DialTimeout time.Duration
}

// SMTPTransport delivers over SMTP through a bounded connection pool.
// Connections are reused across sends with RSET between messages and
// discarded on any protocol error.
type SMTPTransport struct {
	cfg  SMTPConfig
	idle chan *smtp.Client
	// slots caps total connections, idle plus in-use.
	slots chan struct{}
}

// NewSMTPTransport validates the config and builds an empty pool;
// connections are dialed lazily.
func NewSMTPTransport(cfg SMTPConfig) (*SMTPTransport, error) {
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, fmt.Errorf("smtp host and port required")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 5
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	t := &SMTPTransport{
		cfg:  cfg,
		idle: make(chan *smtp.Client, cfg.PoolSize),
		slots: func() chan struct{} {
			ch := make(chan struct{}, cfg.PoolSize)
			for i := 0; i < cfg.PoolSize; i++ {
				ch <- struct{}{}
			}
			return ch
		}(),
	}
	return t, nil
}

// Send delivers msg, reusing a pooled connection when one is available.
func (t *SMTPTransport) Send(ctx context.Context, msg *Message) (*Receipt, error) {
	client, err := t.acquire(ctx)
	if err != nil {
		return nil, err
	}

	messageID := fmt.Sprintf("%s@%s", uuid.New().String(), t.cfg.Host)
	if err := t.deliver(client, msg, messageID); err != nil {
		client.Close()
		t.slots <- struct{}{}
		return nil, err
	}

	t.release(client)
	return &Receipt{
		MessageID: messageID,
		Accepted:  []string{msg.To},
		Rejected:  []string{},
	}, nil
}

// Close drains and quits all idle connections.
func (t *SMTPTransport) Close() {
	for {
		select {
		case c := <-t.idle:
			c.Quit()
		default:
			return
		}
	}
}

func (t *SMTPTransport) acquire(ctx context.Context) (*smtp.Client, error) {
	select {
	case c := <-t.idle:
		return c, nil
	default:
	}
	select {
	case c := <-t.idle:
		return c, nil
	case <-t.slots:
		c, err := t.dial()
		if err != nil {
			t.slots <- struct{}{}
			return nil, err
		}
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *SMTPTransport) release(c *smtp.Client) {
	if err := c.Reset(); err != nil {
		c.Close()
		t.slots <- struct{}{}
		return
	}
	select {
	case t.idle <- c:
	default:
		c.Quit()
		t.slots <- struct{}{}
	}
}

func (t *SMTPTransport) dial() (*smtp.Client, error) {
	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	if t.cfg.StartTLS {
		if err := client.StartTLS(&tls.Config{ServerName: t.cfg.Host}); err != nil {
			client.Close()
			return nil, fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if t.cfg.Username != "" {
		auth := smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("smtp auth: %w", err)
		}
	}
	return client, nil
}

func (t *SMTPTransport) deliver(client *smtp.Client, msg *Message, messageID string) error {
	if err := client.Mail(msg.From); err != nil {
		return err
	}
	if err := client.Rcpt(msg.To); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(buildMIME(msg, messageID)); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func buildMIME(msg *Message, messageID string) []byte {
	var buf bytes.Buffer
	boundary := fmt.Sprintf("=_%s", uuid.New().String()[:16])

	fmt.Fprintf(&buf, "From: %s\r\n", msg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&buf, "Message-ID: <%s>\r\n", messageID)
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", boundary)

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	if msg.HTML != "" {
		buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		buf.WriteString(msg.HTML)
	} else {
		buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		buf.WriteString(msg.Text)
	}
	buf.WriteString("\r\n")

	for _, att := range msg.Attachments {
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: %s\r\n", contentType)
		buf.WriteString("Content-Transfer-Encoding: base64\r\n")
		fmt.Fprintf(&buf, "Content-Disposition: attachment; filename=%q\r\n\r\n", att.Filename)
		buf.WriteString(base64.StdEncoding.EncodeToString(att.Content))
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes()
}

// classify turns a transport error into a tracking key: the SMTP reply code
// and message when the server rejected us, "N/A" plus the raw error when the
// failure happened below the protocol level.
func classify(err error) string {
	var proto *textproto.Error
	if errors.As(err, &proto) {
		return channel.ErrorKey(strconv.Itoa(proto.Code), proto.Msg)
	}
	return channel.ErrorKey("N/A", err.Error())
}
