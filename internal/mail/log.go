package mail

import (
	"context"
	"log/slog"
)

// LogDispatcher は送信の代わりにログへ記録するDispatcher。開発環境用。
// 確認コードはログに出力しない。
type LogDispatcher struct {
	logger   *slog.Logger
	renderer *Renderer
}

// NewLogDispatcher はLogDispatcherを生成する。
func NewLogDispatcher(logger *slog.Logger, renderer *Renderer) *LogDispatcher {
	return &LogDispatcher{logger: logger, renderer: renderer}
}

// Send はテンプレートを描画し、宛先・種類・件名のみを記録する。
func (d *LogDispatcher) Send(ctx context.Context, msg Message) error {
	rendered, err := d.renderer.Render(msg)
	if err != nil {
		return err
	}
	d.logger.InfoContext(ctx, "mail dispatched",
		slog.String("to", msg.To),
		slog.String("kind", string(msg.Kind)),
		slog.String("subject", rendered.Subject),
	)
	return nil
}

// compile-time interface check
var _ Dispatcher = (*LogDispatcher)(nil)
