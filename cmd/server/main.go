package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"duochat/internal/blob"
	"duochat/internal/config"
	"duochat/internal/database"
	"duochat/internal/events"
	"duochat/internal/handler"
	"duochat/internal/idem"
	"duochat/internal/store"
)

// initOTEL installs an OTLP/HTTP tracer provider. Without an endpoint
// tracing stays off.
func initOTEL(ctx context.Context, cfg config.Config) (func(context.Context) error, error) {
	if cfg.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("otel exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		attribute.String("deployment.environment", cfg.Env),
	))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func openBlobs(ctx context.Context, cfg config.Config) (blob.Store, string, error) {
	if cfg.S3Endpoint == "" {
		return blob.NewDir(cfg.UploadDir), "dir:" + cfg.UploadDir, nil
	}
	s3, err := blob.NewS3(ctx, blob.S3Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		return nil, "", err
	}
	return s3, "s3:" + cfg.S3Endpoint + "/" + cfg.S3Bucket, nil
}

func main() {
	// .envファイルを読み込み
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  .env file not found, using default values: %v", err)
	}

	// 環境変数を読み込み
	cfg := config.Load()
	if cfg.JWTSecret == "" {
		log.Fatal("❌ JWT_SECRET is required outside development")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := initOTEL(ctx, cfg)
	if err != nil {
		log.Fatalf("❌ Failed to initialize tracing: %v", err)
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(c)
	}()

	// データベース接続を初期化
	db, err := database.Init(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}
	defer db.Close()

	blobs, blobDesc, err := openBlobs(ctx, cfg)
	if err != nil {
		log.Fatalf("❌ Failed to initialize blob store: %v", err)
	}

	pub := events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopicPrefix)
	defer pub.Close()

	var idemStore idem.Store = idem.NewMemory()
	if cfg.RedisAddr != "" {
		idemStore = idem.NewRedis(cfg.RedisAddr)
	}

	// ハンドラー初期化
	h := handler.New(cfg, store.New(db), blobs, pub, idemStore)
	router := h.SetupRouter()

	// CORS対応
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", handler.IdempotencyHeader},
		ExposedHeaders:   []string{"Content-Length"},
		MaxAge:           300,
		AllowCredentials: true,
	})

	var httpHandler http.Handler = c.Handler(router)
	if cfg.OTLPEndpoint != "" {
		httpHandler = otelhttp.NewHandler(httpHandler, "http.server")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	fmt.Println("========================================")
	fmt.Println("  Duochat API Server")
	fmt.Println("========================================")
	fmt.Printf("  Environment: %s\n", cfg.Env)
	fmt.Printf("  Server: http://localhost:%s\n", cfg.ServerPort)
	fmt.Printf("  WebSocket: ws://localhost:%s/ws\n", cfg.ServerPort)
	if cfg.IsSQLite() {
		fmt.Printf("  Database: sqlite %s\n", cfg.SQLitePath)
	} else if cfg.DBName != "" {
		fmt.Printf("  Database: %s@%s:%s/%s\n", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName)
	}
	fmt.Printf("  Blob store: %s\n", blobDesc)
	if len(cfg.KafkaBrokers) > 0 {
		fmt.Printf("  Kafka: %v (prefix %s)\n", cfg.KafkaBrokers, cfg.KafkaTopicPrefix)
	}
	fmt.Printf("  Allowed Origins: %v\n", cfg.AllowedOrigins)
	if cfg.TrustHandshakeUserID {
		fmt.Println("  ⚠️  Trusting unverified userId on WebSocket handshake")
	}
	fmt.Println("========================================")

	go func() {
		log.Println("🚀 Server started successfully")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("🛑 Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Hijack 済みの WebSocket は Shutdown の対象外なので先に閉じる
	h.Hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("❌ Graceful shutdown failed: %v", err)
	}
	log.Println("✅ Server stopped")
}
