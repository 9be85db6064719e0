package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/zapdesk/media-extractor/internal/config"
	"github.com/zapdesk/media-extractor/internal/core/ports"
	"github.com/zapdesk/media-extractor/internal/core/usecase"
	"github.com/zapdesk/media-extractor/internal/infrastructure/docx"
	"github.com/zapdesk/media-extractor/internal/infrastructure/download"
	"github.com/zapdesk/media-extractor/internal/infrastructure/pdfx"
	"github.com/zapdesk/media-extractor/internal/infrastructure/queue/nats"
	"github.com/zapdesk/media-extractor/internal/infrastructure/repository/postgres"
	"github.com/zapdesk/media-extractor/internal/infrastructure/resilience"
	"github.com/zapdesk/media-extractor/internal/infrastructure/sniff"
	"github.com/zapdesk/media-extractor/internal/infrastructure/storage/miniostore"
	"github.com/zapdesk/media-extractor/internal/infrastructure/transcribe/assemblyai"
	"github.com/zapdesk/media-extractor/internal/infrastructure/vision"
)

type App struct {
	Config config.Config

	Wake      ports.WakeQueue
	Repo      ports.QueueRepository
	EnqueueUC ports.Enqueuer
	ProcessUC ports.Processor

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewQueueRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	store, err := miniostore.New(miniostore.Options{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
		PublicURL: cfg.MinioPublicURL,

		UploadTimeout: cfg.UploadTimeout,
	})
	if err != nil {
		closeDB(db)
		return nil, fmt.Errorf("init object storage: %w", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("ensure storage bucket: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	wake, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		closeDB(db)
		return nil, fmt.Errorf("init wake queue: %w", err)
	}

	visionClient := vision.NewWithOptions(cfg.VisionBaseURL, cfg.VisionAPIKey, vision.Options{
		Timeout:            cfg.ServiceTimeout,
		ResilienceExecutor: executor,
	})
	transcriber := assemblyai.New(cfg.TranscribeBaseURL, cfg.TranscribeAPIKey, assemblyai.Options{
		Language:        cfg.TranscribeLanguage,
		PollInterval:    cfg.PollInterval,
		PollMaxAttempts: cfg.PollMaxAttempts,
		Timeout:         cfg.ServiceTimeout,
	})

	enqueueUC := usecase.NewEnqueueUseCase(repo, wake, cfg.MaxAttempts)
	processUC := usecase.NewProcessUseCase(
		repo,
		download.New(cfg.DownloadTimeout),
		sniff.New(),
		store,
		visionClient,
		transcriber,
		pdfx.NewTextExtractor(),
		pdfx.NewImageFinder(),
		docx.New(),
		cfg.ClaimBatchSize,
	)

	return &App{
		Config: cfg,
		Wake:   wake,
		Repo:   repo,

		EnqueueUC: enqueueUC,
		ProcessUC: processUC,

		closeFn: func() {
			wake.Close()
			closeDB(db)
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func closeDB(db *sql.DB) {
	_ = db.Close()
}
