package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/atelier/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	AuthRate        rate.Limit    // 認証エンドポイントのレート（req/sec/IP）
	AuthBurst       int           // 認証エンドポイントのバーストサイズ
	ResendCooldown  time.Duration // 確認コード再送信の最小間隔（主体ごと）
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// NewRateLimiterConfig は1分あたりの認証リクエスト数と再送信間隔から設定を生成する。
// authPerMinuteが0以下の場合は30 req/minとする。
func NewRateLimiterConfig(authPerMinute int, resendCooldown time.Duration) RateLimiterConfig {
	if authPerMinute <= 0 {
		authPerMinute = 30
	}
	return RateLimiterConfig{
		AuthRate:        rate.Limit(float64(authPerMinute) / 60.0),
		AuthBurst:       authPerMinute,
		ResendCooldown:  resendCooldown,
		CleanupInterval: 5 * time.Minute,
	}
}

// keyLimiter はキーごとのレートリミッターとアクセス時刻を保持する。
type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time

	// 直近に許可した予約。ReleaseResendで取り消す。
	granted   *rate.Reservation
	grantedAt time.Time
}

// limiterSet はキー単位のリミッター集合。
type limiterSet struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*keyLimiter
}

func newLimiterSet(limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*keyLimiter),
	}
}

// get はキーのリミッターを取得または作成する。
func (s *limiterSet) get(key string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry(key, now).limiter
}

// entry はs.muを保持した状態で呼び出す。
func (s *limiterSet) entry(key string, now time.Time) *keyLimiter {
	kl, ok := s.limiters[key]
	if !ok {
		kl = &keyLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[key] = kl
	}
	kl.lastAccess = now
	return kl
}

// reserve は1トークンを予約し、即時に使える場合は予約を記録する。
// 即時に使えない場合は予約を取り消して待ち時間を返す。
func (s *limiterSet) reserve(key string, now time.Time) (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kl := s.entry(key, now)
	reservation := kl.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, 0
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay
	}
	kl.granted = reservation
	kl.grantedAt = now
	return true, 0
}

// release は記録済みの予約を予約時刻で取り消し、トークンを戻す。
func (s *limiterSet) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kl, ok := s.limiters[key]
	if !ok || kl.granted == nil {
		return
	}
	kl.granted.CancelAt(kl.grantedAt)
	kl.granted = nil
}

// sweep は最終アクセスからttlを超えたエントリを削除する。
func (s *limiterSet) sweep(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, kl := range s.limiters {
		if now.Sub(kl.lastAccess) > ttl {
			delete(s.limiters, key)
		}
	}
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// RateLimiter はクライアントIPごとの認証レート制限と、
// 主体ごとの確認コード再送信間隔を管理する。
type RateLimiter struct {
	config RateLimiterConfig
	auth   *limiterSet
	resend *limiterSet
	now    func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	resendLimit := rate.Inf
	if config.ResendCooldown > 0 {
		resendLimit = rate.Every(config.ResendCooldown)
	}
	rl := &RateLimiter{
		config: config,
		auth:   newLimiterSet(config.AuthRate, config.AuthBurst),
		resend: newLimiterSet(resendLimit, 1),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。複数回呼び出しても安全。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// AuthMiddleware はクライアントIPごとのレート制限ミドルウェアを返す。
// 確認コードの総当たりを抑えるため/auth/*に適用する。
func (rl *RateLimiter) AuthMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			limiter := rl.auth.get(ip, rl.now())

			if !limiter.Allow() {
				WriteRateLimitResponse(w, retryAfterFor(rl.config.AuthRate))
				slog.Warn("rate limit exceeded",
					slog.String("client_ip", ip),
					slog.String("limit_type", "auth"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AllowResend は主体の再送信が許可されるかを返す。
// 許可されない場合は次に許可されるまでの待ち時間を返す。
func (rl *RateLimiter) AllowResend(subjectID string) (bool, time.Duration) {
	ok, delay := rl.resend.reserve(subjectID, rl.now())
	if !ok && delay == 0 {
		return false, rl.config.ResendCooldown
	}
	return ok, delay
}

// ReleaseResend は直前にAllowResendで許可した再送信枠を返却する。
// 送信に至らなかった場合に呼び出し、すぐに再試行できるようにする。
func (rl *RateLimiter) ReleaseResend(subjectID string) {
	rl.resend.release(subjectID)
}

// AuthLimiterCount は現在管理されているIP別リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) AuthLimiterCount() int {
	return rl.auth.len()
}

// ResendLimiterCount は現在管理されている再送信リミッターのエントリ数を返す。
func (rl *RateLimiter) ResendLimiterCount() int {
	return rl.resend.len()
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
// 再送信リミッターは再送信間隔より短い時間では削除しない。
func (rl *RateLimiter) cleanup() {
	now := rl.now()
	ttl := rl.config.CleanupInterval * 2
	rl.auth.sweep(now, ttl)

	resendTTL := ttl
	if rl.config.ResendCooldown > resendTTL {
		resendTTL = rl.config.ResendCooldown
	}
	rl.resend.sweep(now, resendTTL)
}

// clientIP はリクエスト元のIPアドレスを返す。
// X-Forwarded-Forの解釈はchiのRealIPミドルウェアに任せ、ここではRemoteAddrのみを見る。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// retryAfterFor は1トークンが補充されるまでの時間を返す。
func retryAfterFor(r rate.Limit) time.Duration {
	if r <= 0 || r == rate.Inf {
		return time.Second
	}
	return time.Duration(float64(time.Second) / float64(r))
}

// WriteRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーには秒単位で切り上げた待ち時間を設定する。
func WriteRateLimitResponse(w http.ResponseWriter, retryAfter time.Duration) {
	retryAfterSec := int(math.Ceil(retryAfter.Seconds()))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
}
