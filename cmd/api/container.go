package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/do/v2"

	"call-insights/internal/analysis"
	"call-insights/internal/audit"
	"call-insights/internal/auth"
	"call-insights/internal/calls"
	"call-insights/internal/config"
	"call-insights/internal/dispatch"
	"call-insights/internal/events"
	"call-insights/internal/httpapi"
	"call-insights/internal/metrics"
	"call-insights/internal/pipeline"
	"call-insights/internal/reporting"
	"call-insights/internal/storage"
	"call-insights/internal/telephony"
	"call-insights/internal/transcription"
	"call-insights/pkg/utils"
)

const initTimeout = 15 * time.Second

func setupDI(cfg config.Config, log *slog.Logger) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, log)
	do.ProvideValue(injector, metrics.Default())

	registerInfra(injector)
	registerProcessing(injector)
	registerHTTP(injector)
	return injector
}

func registerInfra(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*sql.DB, error) {
		cfg := do.MustInvoke[config.Config](i)
		ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
		defer cancel()

		db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return nil, fmt.Errorf("postgres init failed: %w", err)
		}
		if cfg.DB.AutoMigrate {
			if err := utils.RunMigrations(ctx, db, calls.Migrations, audit.Migrations); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("migrations failed: %w", err)
			}
		}
		return db, nil
	})

	do.Provide(injector, func(i do.Injector) (*redis.Client, error) {
		cfg := do.MustInvoke[config.Config](i)
		ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
		defer cancel()
		return utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	})

	do.Provide(injector, func(i do.Injector) (*storage.GCS, error) {
		cfg := do.MustInvoke[config.Config](i)
		ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
		defer cancel()
		return storage.NewGCS(ctx, storage.GCSConfig{
			Bucket:          cfg.Storage.Bucket,
			CredentialsJSON: cfg.Storage.CredentialsJSON,
			PresignTTL:      cfg.Storage.PresignTTL,
		})
	})

	do.Provide(injector, func(i do.Injector) (*calls.PostgresStore, error) {
		return calls.NewPostgresStore(do.MustInvoke[*sql.DB](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (*calls.Service, error) {
		return calls.NewService(do.MustInvoke[*calls.PostgresStore](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (*audit.Service, error) {
		return audit.NewService(audit.NewPostgresRepo(do.MustInvoke[*sql.DB](i))), nil
	})
	do.Provide(injector, func(i do.Injector) (*reporting.Service, error) {
		return reporting.NewService(do.MustInvoke[*calls.PostgresStore](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (*auth.Manager, error) {
		return auth.NewManager(do.MustInvoke[config.Config](i).Auth)
	})
}

func registerProcessing(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*events.Publisher, error) {
		cfg := do.MustInvoke[config.Config](i)
		return events.New(events.Config{
			Brokers:       cfg.Kafka.Brokers,
			TopicAnalyzed: cfg.Kafka.TopicAnalyzed,
			TopicFailed:   cfg.Kafka.TopicFailed,
			Principal:     cfg.Kafka.Principal,
			Enabled:       cfg.Kafka.Enabled,
		}, do.MustInvoke[*slog.Logger](i), do.MustInvoke[*metrics.Metrics](i)), nil
	})

	do.Provide(injector, func(i do.Injector) (*dispatch.Dispatcher, error) {
		cfg := do.MustInvoke[config.Config](i)
		log := do.MustInvoke[*slog.Logger](i)
		opts := []dispatch.Option{dispatch.WithMetrics(do.MustInvoke[*metrics.Metrics](i))}
		if cfg.Pipeline.MaxConcurrency > 0 {
			rdb := do.MustInvoke[*redis.Client](i)
			opts = append(opts, dispatch.WithLimiter(dispatch.NewRedisLimiter(
				rdb, "pipeline:running", cfg.Pipeline.MaxConcurrency, cfg.Pipeline.SlotTTL, log,
			)))
		}
		return dispatch.New(log, opts...), nil
	})

	do.Provide(injector, func(i do.Injector) (*transcription.Gateway, error) {
		cfg := do.MustInvoke[config.Config](i)
		gcs := do.MustInvoke[*storage.GCS](i)

		var (
			engine   transcription.Engine
			resolver transcription.URLResolver
		)
		switch cfg.Transcription.Engine {
		case "google":
			ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
			defer cancel()
			e, err := transcription.NewCloudSpeechEngine(ctx, transcription.CloudSpeechConfig{
				ProjectID:       cfg.Transcription.GoogleProjectID,
				CredentialsJSON: cfg.Storage.CredentialsJSON,
				Language:        cfg.Transcription.Language,
				Location:        cfg.Transcription.GoogleLocation,
				Model:           cfg.Transcription.Model,
			})
			if err != nil {
				return nil, fmt.Errorf("speech client init failed: %w", err)
			}
			// Cloud Speech only reads gs:// URIs.
			engine, resolver = e, storage.GSURIResolver{Store: gcs}
		default:
			engine = transcription.NewHTTPEngine(
				cfg.Transcription.URL,
				cfg.Transcription.APIKey,
				cfg.Transcription.Model,
				cfg.Transcription.Language,
				cfg.Transcription.RequestTimeout,
			)
			resolver = gcs
		}

		return transcription.NewGateway(transcription.GatewayConfig{
			Engine:     engine,
			Resolver:   resolver,
			Objects:    gcs,
			URLTimeout: cfg.Transcription.URLTimeout,
			Retry: transcription.RetryPolicy{
				MaxAttempts:     cfg.Transcription.MaxAttempts,
				InitialInterval: cfg.Transcription.InitialBackoff,
				MaxInterval:     cfg.Transcription.MaxBackoff,
			},
			TempDir: cfg.Storage.TempDir,
			Metrics: do.MustInvoke[*metrics.Metrics](i),
		}), nil
	})

	do.Provide(injector, func(i do.Injector) (*analysis.Gateway, error) {
		cfg := do.MustInvoke[config.Config](i)

		var engine analysis.Engine
		switch cfg.Analysis.Engine {
		case "vertex":
			ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
			defer cancel()
			e, err := analysis.NewVertexEngine(ctx, analysis.VertexConfig{
				ProjectID:       cfg.Analysis.VertexProjectID,
				Region:          cfg.Analysis.VertexRegion,
				Model:           cfg.Analysis.Model,
				CredentialsJSON: cfg.Storage.CredentialsJSON,
			})
			if err != nil {
				return nil, fmt.Errorf("vertex client init failed: %w", err)
			}
			engine = e
		default:
			engine = analysis.NewChatEngine(cfg.Analysis.URL, cfg.Analysis.APIKey, cfg.Analysis.Model, cfg.Analysis.Timeout)
		}
		return analysis.NewGateway(engine, cfg.Analysis.MaxInputChars, do.MustInvoke[*metrics.Metrics](i)), nil
	})

	do.Provide(injector, func(i do.Injector) (*pipeline.Pipeline, error) {
		cfg := do.MustInvoke[config.Config](i)
		return pipeline.New(pipeline.Deps{
			Store:       do.MustInvoke[*calls.PostgresStore](i),
			Transcriber: do.MustInvoke[*transcription.Gateway](i),
			Analyzer:    do.MustInvoke[*analysis.Gateway](i),
			Events:      do.MustInvoke[*events.Publisher](i),
			Scheduler:   do.MustInvoke[*dispatch.Dispatcher](i),
			Metrics:     do.MustInvoke[*metrics.Metrics](i),
			Config: pipeline.Config{
				TranscriptionTimeout: cfg.Transcription.Timeout,
				AnalysisTimeout:      cfg.Analysis.Timeout,
			},
		}), nil
	})
}

func registerHTTP(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*telephony.Handler, error) {
		cfg := do.MustInvoke[config.Config](i)

		// The Voice SDK token endpoint stays off until an API key is configured.
		var tokens *telephony.TokenIssuer
		if cfg.Twilio.APIKeySID != "" {
			t, err := telephony.NewTokenIssuer(telephony.TokenConfig{
				AccountSID:   cfg.Twilio.AccountSID,
				APIKeySID:    cfg.Twilio.APIKeySID,
				APIKeySecret: cfg.Twilio.APIKeySecret,
				TwiMLAppSID:  cfg.Twilio.TwiMLAppSID,
				TTL:          cfg.Twilio.TokenTTL,
			})
			if err != nil {
				return nil, fmt.Errorf("twilio token issuer init failed: %w", err)
			}
			tokens = t
		}

		sessions := telephony.NewRedisSessionStore(do.MustInvoke[*redis.Client](i), cfg.Twilio.SessionTTL)
		ingestor := telephony.NewRecordingIngestor(telephony.IngestorDeps{
			Sessions:  sessions,
			Calls:     do.MustInvoke[*calls.Service](i),
			Objects:   do.MustInvoke[*storage.GCS](i),
			Fetcher:   telephony.NewRecordingFetcher(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, 2*time.Minute),
			Pipeline:  do.MustInvoke[*pipeline.Pipeline](i),
			Scheduler: do.MustInvoke[*dispatch.Dispatcher](i),
			Audit:     do.MustInvoke[*audit.Service](i),
			Metrics:   do.MustInvoke[*metrics.Metrics](i),
		})

		return &telephony.Handler{
			Sessions:             sessions,
			Tokens:               tokens,
			Ingestor:             ingestor,
			CallerID:             cfg.Twilio.CallerID,
			RecordingCallbackURL: cfg.RecordingCallbackURL(),
		}, nil
	})

	do.Provide(injector, func(i do.Injector) (*httpapi.Handlers, error) {
		cfg := do.MustInvoke[config.Config](i)
		return &httpapi.Handlers{
			Auth:           do.MustInvoke[*auth.Manager](i),
			AllowLogin:     !cfg.IsProduction(),
			Calls:          do.MustInvoke[*calls.Service](i),
			Pipeline:       do.MustInvoke[*pipeline.Pipeline](i),
			Objects:        do.MustInvoke[*storage.GCS](i),
			Reports:        do.MustInvoke[*reporting.Service](i),
			Audit:          do.MustInvoke[*audit.Service](i),
			AutoProcess:    cfg.Pipeline.AutoProcess,
			MaxUploadBytes: cfg.Upload.MaxBytes,
		}, nil
	})
}
