package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/hitoshi/atelier/internal/auth"
	"github.com/hitoshi/atelier/internal/config"
	"github.com/hitoshi/atelier/internal/credential"
	"github.com/hitoshi/atelier/internal/database"
	"github.com/hitoshi/atelier/internal/handler"
	"github.com/hitoshi/atelier/internal/logger"
	"github.com/hitoshi/atelier/internal/mail"
	"github.com/hitoshi/atelier/internal/metrics"
	"github.com/hitoshi/atelier/internal/middleware"
	"github.com/hitoshi/atelier/internal/repository"
	"github.com/hitoshi/atelier/internal/security"
	"github.com/hitoshi/atelier/internal/session"
	"github.com/hitoshi/atelier/internal/worker/cleanup"
	"github.com/hitoshi/atelier/internal/workshop"
)

const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定のログレベルで再設定する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, known := lookupCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	if !known {
		slog.Warn("unknown command, falling back to serve", slog.String("arg", args[0]))
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("store_backend", cfg.StoreBackend),
		slog.String("mail_driver", cfg.MailDriver),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(ctx, cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// stores はバックエンドごとのリポジトリ実装の組をまとめる。
type stores struct {
	users     repository.UserRepository
	requests  repository.VerificationRequestRepository
	workshops repository.WorkshopRepository
	close     func()
}

// openStores はSTORE_BACKENDに応じてリポジトリを初期化する。
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := openPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &stores{
			users:     repository.NewPostgresUserRepo(db),
			requests:  repository.NewPostgresVerificationRepo(db),
			workshops: repository.NewPostgresWorkshopRepo(db),
			close:     func() { _ = db.Close() },
		}, nil

	case config.BackendMongo:
		client, mdb, err := openMongo(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &stores{
			users:     repository.NewMongoUserRepo(mdb),
			requests:  repository.NewMongoVerificationRepo(mdb),
			workshops: repository.NewMongoWorkshopRepo(mdb),
			close:     func() { _ = client.Disconnect(context.Background()) },
		}, nil

	case config.BackendMemory:
		slog.Warn("using in-memory store; data is lost on restart")
		return &stores{
			users:     repository.NewMemoryUserRepo(),
			requests:  repository.NewMemoryVerificationRepo(),
			workshops: repository.NewMemoryWorkshopRepo(),
			close:     func() {},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported store backend: %q", cfg.StoreBackend)
	}
}

func openPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

func openMongo(ctx context.Context, cfg *config.Config) (*mongo.Client, *mongo.Database, error) {
	client, err := database.ConnectMongo(ctx, cfg.MongoURI)
	if err != nil {
		return nil, nil, err
	}
	mdb := client.Database(cfg.MongoDatabase)
	if err := database.EnsureMongoIndexes(ctx, mdb); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ensure mongo indexes: %w", err)
	}
	slog.Info("mongo connection established", slog.String("database", cfg.MongoDatabase))
	return client, mdb, nil
}

// newMailer はMAIL_DRIVERに応じたDispatcherを送信計測付きで生成する。
func newMailer(cfg *config.Config, recorder mail.Recorder) (mail.Dispatcher, error) {
	renderer, err := mail.NewRenderer(cfg.DefaultLocale)
	if err != nil {
		return nil, fmt.Errorf("failed to load mail templates: %w", err)
	}

	var dispatcher mail.Dispatcher
	switch cfg.MailDriver {
	case config.MailDriverSMTP:
		dispatcher = mail.NewSMTPDispatcher(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
			Timeout:  cfg.MailDispatchTimeout,
		}, renderer)
	case config.MailDriverLog:
		dispatcher = mail.NewLogDispatcher(slog.Default(), renderer)
	default:
		return nil, fmt.Errorf("unsupported mail driver: %q", cfg.MailDriver)
	}
	return mail.Instrument(dispatcher, recorder), nil
}

// newRegistry はプロセス・ランタイムのコレクタを登録したレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// server は依存関係をワイヤリングしたHTTPサーバーとその後始末をまとめる。
type server struct {
	http    *http.Server
	limiter *middleware.RateLimiter
	cleanup *cleanup.CleanupJob
	stores  *stores
}

// buildServer はAPIサーバーの全依存関係をワイヤリングする。
func buildServer(ctx context.Context, cfg *config.Config) (*server, error) {
	// 1. ストア
	st, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// 2. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 3. 認証情報とセッション
	hasher, err := credential.NewHasher(cfg.BcryptCost)
	if err != nil {
		st.close()
		return nil, fmt.Errorf("failed to create password hasher: %w", err)
	}
	sanitizer := security.NewSanitizer()
	issuer := session.NewIssuer(session.Config{
		Secret:     cfg.SessionSecret,
		PendingTTL: cfg.PendingSessionTTL,
		FullTTL:    cfg.SessionTTL,
	})

	mailer, err := newMailer(cfg, collector)
	if err != nil {
		st.close()
		return nil, err
	}

	// 4. ドメインサービス
	authService := auth.NewService(auth.Deps{
		Credentials: credential.NewStore(st.users, hasher, sanitizer),
		Requests:    st.requests,
		Tokens:      issuer,
		Mailer:      mailer,
		Recorder:    collector,
	}, auth.Config{
		VerificationCodeTTL: cfg.VerificationCodeTTL,
		ResetCodeTTL:        cfg.ResetCodeTTL,
	})
	workshopService := workshop.NewService(st.workshops, sanitizer)

	// 5. ルーター
	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitAuth, cfg.ResendCooldown))
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		StatusRecorder:    collector,
		Verifier:          issuer,
		RateLimiter:       limiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		AuthService:       authService,
		AuthConfig:        handler.AuthHandlerConfig{DefaultLocale: cfg.DefaultLocale},
		WorkshopService:   workshopService,
		MetricsHandler:    metrics.Handler(reg),
	})

	srv := &server{
		http: &http.Server{
			Addr:         ":" + cfg.ServerPort,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		limiter: limiter,
		stores:  st,
	}

	// インメモリストアは別プロセスのworkerから参照できないため、API内で掃除する
	if cfg.StoreBackend == config.BackendMemory {
		job := cleanup.NewCleanupJob(st.requests, collector, slog.Default())
		job.Retention = cfg.CleanupRetention
		srv.cleanup = job
	}

	return srv, nil
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	srv, err := buildServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer srv.stores.close()
	defer srv.limiter.Stop()

	if srv.cleanup != nil {
		go srv.cleanup.Start(ctx, cfg.CleanupInterval)
	}

	return serveUntilDone(ctx, srv.http, "API server")
}

// runWorker はワーカーモードで起動する。
// 失効した確認コードを定期削除し、/metricsのみを公開する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.StoreBackend == config.BackendMemory {
		return errors.New("worker requires a persistent store backend")
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	job := cleanup.NewCleanupJob(st.requests, collector, slog.Default())
	job.Retention = cfg.CleanupRetention
	go job.Start(ctx, cfg.CleanupInterval)

	metricsServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return serveUntilDone(ctx, metricsServer, "worker metrics server")
}

// serveUntilDone はHTTPサーバーを起動し、ctxの終了後にグレースフルシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runMigrate はバックエンドのスキーマを最新化する。
// PostgreSQLはマイグレーションを適用し、MongoDBはインデックスを作成する。
func runMigrate(ctx context.Context, cfg *config.Config) error {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		slog.Info("running database migrations",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case config.BackendMongo:
		client, _, err := openMongo(ctx, cfg)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		_ = client.Disconnect(context.Background())
	default:
		slog.Info("nothing to migrate", slog.String("store_backend", cfg.StoreBackend))
		return nil
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
