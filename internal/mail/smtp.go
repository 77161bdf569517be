package mail

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/gomail.v2"
)

// SMTPConfig はSMTP送信の設定。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPDispatcher はgomailでSMTP送信するDispatcher。
type SMTPDispatcher struct {
	from     string
	timeout  time.Duration
	renderer *Renderer
	send     func(m ...*gomail.Message) error
}

// NewSMTPDispatcher はSMTPDispatcherを生成する。
func NewSMTPDispatcher(cfg SMTPConfig, renderer *Renderer) *SMTPDispatcher {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &SMTPDispatcher{
		from:     cfg.From,
		timeout:  cfg.Timeout,
		renderer: renderer,
		send:     dialer.DialAndSend,
	}
}

// Send はメールを組み立てて送信する。
// gomailのDialerはcontextに対応しないため、送信を別goroutineで行いタイムアウトで打ち切る。
func (d *SMTPDispatcher) Send(ctx context.Context, msg Message) error {
	rendered, err := d.renderer.Render(msg)
	if err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", d.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", rendered.Subject)
	m.SetBody("text/plain", rendered.Text)
	m.AddAlternative("text/html", rendered.HTML)

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.send(m)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to send %s mail: %w", msg.Kind, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mail dispatch aborted: %w", ctx.Err())
	}
}

// compile-time interface check
var _ Dispatcher = (*SMTPDispatcher)(nil)
