// Package logger はJSON構造化ログの初期化を提供する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// redactedValue は秘匿属性の置換後の値。
const redactedValue = "[REDACTED]"

// sensitiveKeys は値を出力してはならない属性キーの部分文字列。
// パスワード、確認コード、トークンはログに残さない。
var sensitiveKeys = []string{"password", "code", "token", "authorization", "secret"}

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// levelには "debug", "info", "warn", "error" を指定する。不明な値はinfoとして扱う。
func Setup(w io.Writer, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: redactSensitive,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// writerがnilの場合はos.Stdoutに出力する。
func SetupDefault(w io.Writer, level string) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(Setup(w, level))
}

// ParseLevel はログレベル文字列をslog.Levelに変換する。
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// redactSensitive は秘匿キーを持つ属性の値をマスクする。
// グループ内の属性にも適用される。
func redactSensitive(groups []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		return a
	}
	key := strings.ToLower(a.Key)
	// status_code のようなHTTPメタデータはマスクしない
	if key == "status_code" || key == "error_code" {
		return a
	}
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return slog.String(a.Key, redactedValue)
		}
	}
	return a
}
