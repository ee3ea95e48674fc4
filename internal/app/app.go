package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/cafesns/internal/auth"
	"github.com/hitoshi/cafesns/internal/cache"
	"github.com/hitoshi/cafesns/internal/config"
	"github.com/hitoshi/cafesns/internal/database"
	"github.com/hitoshi/cafesns/internal/handler"
	"github.com/hitoshi/cafesns/internal/logger"
	"github.com/hitoshi/cafesns/internal/metrics"
	"github.com/hitoshi/cafesns/internal/middleware"
	"github.com/hitoshi/cafesns/internal/password"
	"github.com/hitoshi/cafesns/internal/repository"
	"github.com/hitoshi/cafesns/internal/security"
	"github.com/hitoshi/cafesns/internal/storage"
	"github.com/hitoshi/cafesns/internal/token"
	"github.com/hitoshi/cafesns/internal/worker/cleanup"
)

const (
	dbPingTimeout       = 5 * time.Second
	shutdownTimeout     = 30 * time.Second
	imageUploadTimeout  = 15 * time.Second
	redisConnectTimeout = 10 * time.Second
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	level := logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level.Set(cfg.LogLevel)
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	inv := ParseInvocation(args)
	cmd := inv.Command

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if !cmd.NeedsConfig() {
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

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.Bool("naver_oauth", cfg.NaverEnabled()),
		slog.Bool("image_upload", cfg.S3Enabled()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg, inv)
	default:
		return runServe(ctx, cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. Redis接続（OAuth state保存先）
	var redisClient redis.Cmdable
	if cfg.RedisURL != "" {
		client, err := cache.Connect(ctx, cache.ConnectConfig{
			URL:            cfg.RedisURL,
			ConnectTimeout: redisConnectTimeout,
			RetryAttempts:  5,
			RetryInterval:  time.Second,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer client.Close()
		redisClient = client

		slog.Info("redis connection established")
	}

	// 3. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// 4. ルーターの構築
	router, err := buildRouter(ctx, cfg, db, redisClient, reg)
	if err != nil {
		return err
	}
	defer router.Close()

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// appRouter はHTTPハンドラーと、停止時に解放するリソースをまとめたもの。
type appRouter struct {
	http.Handler
	rateLimiter *middleware.RateLimiter
}

// Close はレートリミッターのバックグラウンド処理を停止する。
func (r *appRouter) Close() {
	r.rateLimiter.Stop()
}

// buildRouter はリポジトリ・サービス・ハンドラーを組み立てる。
// redisClientがnilの場合はOAuthログインを無効にする。
func buildRouter(ctx context.Context, cfg *config.Config, db *sql.DB, redisClient redis.Cmdable, reg *prometheus.Registry) (*appRouter, error) {
	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	refreshRepo := repository.NewPostgresRefreshTokenRepo(db)

	// 2. トークン・セキュリティ
	tokens, err := token.NewManager(token.Config{
		Secret:     []byte(cfg.JWTSecret),
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token manager: %w", err)
	}
	ssrfGuard := security.NewSSRFGuard(cfg.OAuthAvatarHosts...)
	collector := metrics.NewCollector(reg)

	deps := auth.Deps{
		Users:         userRepo,
		Identities:    identRepo,
		RefreshTokens: refreshRepo,
		Hasher:        password.NewHasher(password.DefaultParams),
		Tokens:        tokens,
		Sanitizer:     security.NewTextSanitizer(),
		URLs:          ssrfGuard,
		Metrics:       collector,
	}

	// 3. 画像保存先（任意）
	if cfg.S3Enabled() {
		images, err := storage.NewS3ImageStore(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PublicBaseURL:   cfg.S3PublicBaseURL,
			ForcePathStyle:  cfg.S3ForcePathStyle,
			MaxBytes:        cfg.ImageMaxBytes,
			UploadTimeout:   imageUploadTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create image store: %w", err)
		}
		deps.Images = images
	}

	// 4. OAuth（任意）
	if cfg.NaverEnabled() && redisClient != nil {
		deps.OAuth = auth.NewNaverOAuthProvider(auth.NaverOAuthConfig{
			ClientID:     cfg.NaverClientID,
			ClientSecret: cfg.NaverClientSecret,
			RedirectURL:  cfg.NaverRedirectURL,
			HTTPClient:   ssrfGuard.NewSafeClient(cfg.OAuthHTTPTimeout),
		})
		deps.States = cache.NewRedisStateStore(redisClient)
	}

	authService := auth.NewService(deps, auth.ServiceConfig{
		OAuthStateTTL: cfg.OAuthStateTTL,
	})

	// 5. ルーター
	trustedProxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitAuthPerMin))

	router := handler.NewRouter(&handler.RouterDeps{
		TokenVerifier:      tokens,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		TrustedProxies:     trustedProxies,
		SecurityHeaders:    middleware.SecurityHeadersConfig{HSTSMaxAge: cfg.HSTSMaxAge},
		RateLimiter:        rateLimiter,
		Metrics:            collector,
		Logger:             slog.Default(),
		AuthService:        authService,
		AuthConfig:         handler.AuthHandlerConfig{MaxImageBytes: cfg.ImageMaxBytes},
		HealthChecker:      db,
		MetricsHandler:     metrics.Handler(reg),
	})

	return &appRouter{Handler: router, rateLimiter: rateLimiter}, nil
}

// runWorker はワーカーモードで起動する。
// 期限切れリフレッシュトークンの削除ジョブを、ctxがキャンセルされるまで日次で実行する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())

	slog.Info("worker starting", slog.Duration("cleanup_interval", cleanupJob.Interval))
	cleanupJob.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// 引数なしは未適用分をすべて適用し、"down [N]" は直近N件を取り消す。
func runMigrate(cfg *config.Config, inv Invocation) error {
	steps, err := inv.RollbackSteps()
	if err != nil {
		return err
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Int("rollback_steps", steps),
	)

	mg, err := database.NewMigrator(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	defer mg.Close()

	var status database.MigrationStatus
	if steps > 0 {
		status, err = mg.Down(steps)
	} else {
		status, err = mg.Up()
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("from_version", uint64(status.From)),
		slog.Uint64("to_version", uint64(status.To)),
		slog.Bool("changed", status.Changed()),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
