package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// StatusRecorder はHTTPステータスコードを記録するインターフェース。metrics.Collectorが実装する。
type StatusRecorder interface {
	RecordHTTPStatus(statusCode int)
}

// logSubjectKey はログ用のセッション主体を保持するホルダーのキー。
var logSubjectKey = contextKey("log_subject")

// logSubject は内側のミドルウェアが判明した主体IDを外側のロガーへ渡すためのホルダー。
type logSubject struct {
	mu sync.Mutex
	id string
}

// setLogSubject はロギングミドルウェアが用意したホルダーに主体IDを書き込む。
func setLogSubject(ctx context.Context, id string) {
	if holder, ok := ctx.Value(logSubjectKey).(*logSubject); ok {
		holder.mu.Lock()
		holder.id = id
		holder.mu.Unlock()
	}
}

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader はステータスコードを記録してから委譲する。
func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

// Write はデータを書き込む。WriteHeaderが未呼び出しの場合は200を記録する。
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、path、status、duration_ms、subject_id（セッションがある場合）を含む。
// recorderがnilでない場合はステータスコードも記録する。
func NewLoggingMiddleware(logger *slog.Logger, recorder StatusRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			holder := &logSubject{}
			ctx := context.WithValue(r.Context(), logSubjectKey, holder)

			next.ServeHTTP(rec, r.WithContext(ctx))

			duration := time.Since(start)
			durationMs := float64(duration.Nanoseconds()) / float64(time.Millisecond)

			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", durationMs),
			}

			holder.mu.Lock()
			subjectID := holder.id
			holder.mu.Unlock()
			if subjectID == "" {
				if claims, ok := SessionFromContext(r.Context()); ok {
					subjectID = claims.SubjectID()
				}
			}
			if subjectID != "" {
				args = append(args, slog.String("subject_id", subjectID))
			}

			level := slog.LevelInfo
			if rec.statusCode >= 500 {
				level = slog.LevelError
			} else if rec.statusCode >= 400 {
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "http_request", args...)

			if recorder != nil {
				recorder.RecordHTTPStatus(rec.statusCode)
			}
		})
	}
}
