package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"refund-insights-service/internal/clients/shopify"
	"refund-insights-service/internal/config"
	"refund-insights-service/internal/events"
	"refund-insights-service/internal/models"
	"refund-insights-service/internal/repository"
)

// ErrSyncInProgress means the shop already has an active run
var ErrSyncInProgress = errors.New("a sync is already running for this shop")

// ShopifyClient is the slice of the Admin API client the sync pipeline uses
type ShopifyClient interface {
	InitiateBulkExport(ctx context.Context) (*shopify.BulkOperation, error)
	AwaitCompletion(ctx context.Context, operationID string, interval time.Duration) (*shopify.BulkOperation, error)
	DownloadResult(ctx context.Context, url string) (io.ReadCloser, error)
	FetchOrderRefunds(ctx context.Context, orderID string) ([]shopify.RefundDetail, error)
	CurrentBulkOperation(ctx context.Context) (*shopify.BulkOperation, error)
}

// ClientFactory builds an Admin API client for a shop's credentials
type ClientFactory func(shop, accessToken string) ShopifyClient

// SyncService orchestrates bulk-export sync runs. Each run executes in a
// background goroutine with its own timeout; at most one run per shop is
// active at a time.
type SyncService struct {
	syncRepo    *repository.SyncRepository
	sessionRepo *repository.SessionRepository
	reportRepo  *repository.ReportRepository
	ingest      *IngestService
	publisher   *events.Publisher
	config      *config.Config
	newClient   ClientFactory
	logger      *logrus.Entry

	activeRuns map[uuid.UUID]context.CancelFunc
	mu         sync.Mutex
}

// NewSyncService creates a new sync service
func NewSyncService(
	syncRepo *repository.SyncRepository,
	sessionRepo *repository.SessionRepository,
	reportRepo *repository.ReportRepository,
	ingest *IngestService,
	publisher *events.Publisher,
	cfg *config.Config,
	logger *logrus.Logger,
) *SyncService {
	s := &SyncService{
		syncRepo:    syncRepo,
		sessionRepo: sessionRepo,
		reportRepo:  reportRepo,
		ingest:      ingest,
		publisher:   publisher,
		config:      cfg,
		logger:      logger.WithField("component", "sync_service"),
		activeRuns:  make(map[uuid.UUID]context.CancelFunc),
	}
	s.newClient = func(shop, accessToken string) ShopifyClient {
		return shopify.NewClient(shop, accessToken, cfg.ShopifyAPIVersion)
	}
	return s
}

// SetClientFactory overrides how Admin API clients are built
func (s *SyncService) SetClientFactory(factory ClientFactory) {
	s.newClient = factory
}

// StartSync creates a sync run for the shop and launches the pipeline in the
// background. A shop with an active run is rejected.
func (s *SyncService) StartSync(ctx context.Context, shop string, triggeredBy models.TriggerType) (*models.SyncRun, error) {
	session, err := s.sessionRepo.GetByShop(ctx, shop)
	if err != nil {
		return nil, fmt.Errorf("no session for shop %s: %w", shop, err)
	}

	active, err := s.syncRepo.GetActiveRun(ctx, shop)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, fmt.Errorf("%w: %s", ErrSyncInProgress, shop)
	}

	run := &models.SyncRun{
		ID:          uuid.New(),
		Shop:        shop,
		Status:      models.SyncStatusPending,
		TriggeredBy: triggeredBy,
	}
	if err := s.syncRepo.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create sync run: %w", err)
	}

	runCtx, cancel := context.WithTimeout(context.Background(), s.config.SyncTimeout)
	s.mu.Lock()
	s.activeRuns[run.ID] = cancel
	s.mu.Unlock()

	s.publisher.SyncStarted(shop, run.ID, string(triggeredBy))
	go s.runPipeline(runCtx, run, s.newClient(shop, session.AccessToken))

	return run, nil
}

// GetRun retrieves a sync run by ID
func (s *SyncService) GetRun(ctx context.Context, id uuid.UUID) (*models.SyncRun, error) {
	return s.syncRepo.GetRunByID(ctx, id)
}

// GetStatus retrieves the most recent run for a shop alongside the raw
// remote bulk operation state. The remote check is best effort: a shop
// without a session or with the platform unreachable still gets its run.
func (s *SyncService) GetStatus(ctx context.Context, shop string) (*models.SyncRun, *shopify.BulkOperation, error) {
	run, err := s.syncRepo.GetLatestRun(ctx, shop)
	if err != nil {
		return nil, nil, err
	}

	session, err := s.sessionRepo.GetByShop(ctx, shop)
	if err != nil {
		return run, nil, nil
	}
	op, err := s.newClient(shop, session.AccessToken).CurrentBulkOperation(ctx)
	if err != nil {
		s.logger.WithError(err).WithField("shop", shop).Debug("Failed to fetch remote bulk operation")
		return run, nil, nil
	}
	return run, op, nil
}

// GetRunLogs retrieves logs for a run
func (s *SyncService) GetRunLogs(ctx context.Context, runID uuid.UUID, level models.LogLevel, limit int) ([]models.SyncLog, error) {
	return s.syncRepo.GetRunLogs(ctx, runID, level, limit)
}

// CancelRun stops an in-flight run
func (s *SyncService) CancelRun(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	cancel, exists := s.activeRuns[id]
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("run not found or not running")
	}

	cancel()
	return s.syncRepo.UpdateRunStatus(ctx, id, models.SyncStatusCancelled, "Cancelled by user")
}

// SyncAllShops starts a scheduled sync for every installed shop. Shops that
// already have a run in flight are skipped, not errors.
func (s *SyncService) SyncAllShops(ctx context.Context) (int, error) {
	sessions, err := s.sessionRepo.GetActiveSessions(ctx)
	if err != nil {
		return 0, err
	}

	started := 0
	for _, session := range sessions {
		if _, err := s.StartSync(ctx, session.Shop, models.TriggerScheduled); err != nil {
			s.logger.WithError(err).WithField("shop", session.Shop).Warn("Skipping scheduled sync")
			continue
		}
		started++
	}
	return started, nil
}

// runPipeline drives one run end to end: initiate the bulk export, wait for
// it, stream the dump through the ingest engine, then finalize the run row.
func (s *SyncService) runPipeline(ctx context.Context, run *models.SyncRun, client ShopifyClient) {
	defer func() {
		s.mu.Lock()
		delete(s.activeRuns, run.ID)
		s.mu.Unlock()
	}()

	log := s.logger.WithFields(logrus.Fields{"shop": run.Shop, "run_id": run.ID})

	if err := s.syncRepo.UpdateRunStatus(ctx, run.ID, models.SyncStatusRunning, ""); err != nil {
		log.WithError(err).Error("Failed to mark run as running")
		return
	}

	op, err := client.InitiateBulkExport(ctx)
	if err != nil {
		s.failRun(ctx, run, fmt.Sprintf("bulk export initiation failed: %v", err))
		return
	}
	if err := s.syncRepo.SetBulkOperationID(ctx, run.ID, op.ID); err != nil {
		log.WithError(err).Warn("Failed to record bulk operation id")
	}
	log.WithField("bulk_operation_id", op.ID).Info("Bulk export started")

	completed, err := client.AwaitCompletion(ctx, op.ID, s.config.BulkPollInterval)
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled or timed out; CancelRun already wrote the status
			// for the cancel path.
			s.failRunIfNotCancelled(run, fmt.Sprintf("bulk export interrupted: %v", ctx.Err()))
			return
		}
		s.failRun(ctx, run, fmt.Sprintf("bulk export failed: %v", err))
		return
	}

	// Seed the total from the platform's object count so progress reads
	// against the whole dump from the first flush
	expectedTotal := 0
	if n, convErr := strconv.Atoi(completed.ObjectCount); convErr == nil && n > 0 {
		expectedTotal = n
		if err := s.syncRepo.UpdateProgress(ctx, run.ID, expectedTotal, 0, 0, 0); err != nil {
			log.WithError(err).Warn("Failed to seed run total")
		}
	}

	stats := &IngestStats{}
	if completed.URL == "" {
		log.Info("Bulk export produced no records")
	} else {
		dump, err := client.DownloadResult(ctx, completed.URL)
		if err != nil {
			s.failRun(ctx, run, fmt.Sprintf("failed to download bulk result: %v", err))
			return
		}
		defer dump.Close()

		stats, err = s.ingest.Ingest(ctx, run.ID, run.Shop, dump, client, expectedTotal)
		if err != nil {
			if ctx.Err() != nil {
				s.failRunIfNotCancelled(run, fmt.Sprintf("ingestion interrupted: %v", ctx.Err()))
				return
			}
			s.failRun(ctx, run, fmt.Sprintf("ingestion failed: %v", err))
			return
		}
	}

	if err := s.syncRepo.UpdateRunStatus(ctx, run.ID, models.SyncStatusCompleted, ""); err != nil {
		log.WithError(err).Error("Failed to mark run as completed")
		return
	}
	s.reportRepo.InvalidateShop(ctx, run.Shop)
	s.publisher.SyncCompleted(run.Shop, run.ID, stats.Total, stats.Processed, stats.Failed, stats.Skipped)
	log.WithFields(logrus.Fields{
		"total":     stats.Total,
		"processed": stats.Processed,
		"failed":    stats.Failed,
		"skipped":   stats.Skipped,
	}).Info("Sync completed")
}

func (s *SyncService) failRun(ctx context.Context, run *models.SyncRun, reason string) {
	s.logger.WithFields(logrus.Fields{"shop": run.Shop, "run_id": run.ID}).Error(reason)
	if err := s.syncRepo.UpdateRunStatus(ctx, run.ID, models.SyncStatusFailed, reason); err != nil {
		s.logger.WithError(err).Error("Failed to mark run as failed")
	}
	s.publisher.SyncFailed(run.Shop, run.ID, reason)
}

// failRunIfNotCancelled finalizes a run whose context died. Uses a fresh
// context since the run's own is already done.
func (s *SyncService) failRunIfNotCancelled(run *models.SyncRun, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	current, err := s.syncRepo.GetRunByID(ctx, run.ID)
	if err == nil && current.Status == models.SyncStatusCancelled {
		return
	}
	s.failRun(ctx, run, reason)
}
