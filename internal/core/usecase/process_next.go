package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zapdesk/media-extractor/internal/core/domain"
	"github.com/zapdesk/media-extractor/internal/core/ports"
)

// ProcessUseCase is the extraction pipeline behind the single "process next"
// operation: claim scheduling, media-type dispatch and outcome persistence.
// Concurrency correctness relies entirely on the repository's conditional
// claim; many invocations may run at once.
type ProcessUseCase struct {
	repo       ports.QueueRepository
	downloader ports.Downloader
	sniffer    ports.TypeSniffer
	storage    ports.ObjectStorage
	extractors map[domain.MediaType]mediaExtractor
	batchSize  int
}

func NewProcessUseCase(
	repo ports.QueueRepository,
	downloader ports.Downloader,
	sniffer ports.TypeSniffer,
	storage ports.ObjectStorage,
	vision ports.VisionService,
	transcriber ports.Transcriber,
	pdfText ports.PDFTextExtractor,
	pdfImages ports.PDFImageFinder,
	word ports.WordExtractor,
	batchSize int,
) *ProcessUseCase {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &ProcessUseCase{
		repo:       repo,
		downloader: downloader,
		sniffer:    sniffer,
		storage:    storage,
		extractors: map[domain.MediaType]mediaExtractor{
			domain.MediaImage: &imageExtractor{vision: vision},
			domain.MediaAudio: &audioExtractor{transcriber: transcriber},
			domain.MediaPDF:   &pdfExtractor{text: pdfText, images: pdfImages, storage: storage, vision: vision},
			domain.MediaDocx:  &docExtractor{word: word},
		},
		batchSize: batchSize,
	}
}

// ProcessNext claims at most one eligible queued item and runs it through the
// extraction pipeline. An empty queue is a no-op success.
func (uc *ProcessUseCase) ProcessNext(ctx context.Context) (ports.ProcessOutcome, error) {
	claimed, err := uc.claimNext(ctx)
	if err != nil {
		return ports.ProcessOutcome{}, err
	}
	if claimed == nil {
		return ports.ProcessOutcome{Processed: false}, nil
	}

	result, status, err := uc.extract(ctx, claimed)
	now := time.Now().UTC()
	switch {
	case err == nil:
		if markErr := uc.repo.MarkProcessed(ctx, claimed.ID, status, result, now); markErr != nil {
			return ports.ProcessOutcome{}, fmt.Errorf("mark item processed: %w", markErr)
		}
		return ports.ProcessOutcome{
			Processed:        true,
			ItemID:           claimed.ID,
			MediaType:        string(claimed.MediaType),
			Success:          true,
			ExtractedText:    result.Text,
			ProcessingMethod: result.Method,
			PriorAttempts:    claimed.Attempts,
			ReceivedAt:       claimed.ReceivedAt,
		}, nil

	case domain.IsKind(err, domain.ErrUnresolvableSource):
		// Permanent: no URL will ever appear on this item, so the retry
		// budget stays untouched and the item is errored immediately.
		if markErr := uc.repo.MarkUnresolvable(ctx, claimed.ID, err.Error(), now); markErr != nil {
			return ports.ProcessOutcome{}, fmt.Errorf("%w; mark unresolvable: %w", err, markErr)
		}
		return ports.ProcessOutcome{Processed: true, ItemID: claimed.ID, MediaType: string(claimed.MediaType), Success: false, PriorAttempts: claimed.Attempts, ReceivedAt: claimed.ReceivedAt}, nil

	default:
		outcome := domain.NextFailureState(claimed, now)
		if markErr := uc.repo.MarkFailed(ctx, claimed.ID, outcome, err.Error(), now); markErr != nil {
			return ports.ProcessOutcome{}, fmt.Errorf("%w; mark failed: %w", err, markErr)
		}
		return ports.ProcessOutcome{Processed: true, ItemID: claimed.ID, MediaType: string(claimed.MediaType), Success: false, PriorAttempts: claimed.Attempts, ReceivedAt: claimed.ReceivedAt}, err
	}
}

// claimNext walks the freshest queued candidates and races for the first
// eligible one. Lost claim races are expected and skipped; anything else is
// fatal for the invocation.
func (uc *ProcessUseCase) claimNext(ctx context.Context) (*domain.QueueItem, error) {
	now := time.Now().UTC()
	items, err := uc.repo.FetchQueued(ctx, uc.batchSize)
	if err != nil {
		return nil, fmt.Errorf("fetch queued items: %w", err)
	}

	for i := range items {
		item := &items[i]
		if !item.Eligible(now) {
			continue
		}
		if err := uc.repo.Claim(ctx, item.ID, now); err != nil {
			if domain.IsKind(err, domain.ErrClaimConflict) {
				continue
			}
			return nil, fmt.Errorf("claim candidate %s: %w", item.ID, err)
		}
		item.Status = domain.StatusProcessing
		item.LastAttemptAt = &now
		return item, nil
	}
	return nil, nil
}

func (uc *ProcessUseCase) extract(ctx context.Context, item *domain.QueueItem) (domain.ExtractionResult, domain.ItemStatus, error) {
	if strings.TrimSpace(item.MediaURL) == "" {
		return domain.ExtractionResult{}, "", domain.WrapError(
			domain.ErrUnresolvableSource, "resolve media source", errors.New("item has no media url"))
	}

	// Video is never extracted; skip the download as well.
	if item.MediaType == domain.MediaVideo {
		return domain.ExtractionResult{Method: methodSkippedVideo}, domain.StatusDone, nil
	}

	data, err := uc.downloader.Fetch(ctx, item.MediaURL)
	if err != nil {
		return domain.ExtractionResult{}, "", fmt.Errorf("download media: %w", err)
	}

	resolved := uc.sniffer.Sniff(data, item.DeclaredMime)
	category := resolved.MediaType
	if category == domain.MediaUnknown {
		category = item.MediaType
	}

	if skip, ok := domain.SkipFor(resolved, len(data)); ok {
		return domain.ExtractionResult{Text: skip.Placeholder, Method: skip.Method}, domain.StatusDone, nil
	}

	if category == domain.MediaVideo {
		return domain.ExtractionResult{Method: methodSkippedVideo}, domain.StatusDone, nil
	}

	extractor, ok := uc.extractors[category]
	if !ok {
		return domain.ExtractionResult{}, "", fmt.Errorf("no extractor for media type %q (mime %s)", category, resolved.Mime)
	}

	payload := &mediaPayload{
		item:     item,
		data:     data,
		resolved: resolved,
	}
	payload.storedURL = uc.uploadDurableCopy(ctx, item, data, resolved.Mime)

	result, err := extractor.Extract(ctx, payload)
	if err != nil {
		return domain.ExtractionResult{}, "", err
	}
	if result.StoredURL == "" {
		result.StoredURL = payload.storedURL
	}
	return result, domain.SuccessStatus(category, result.Text), nil
}

// uploadDurableCopy is non-fatal: when the upload fails, extraction proceeds
// against the original source URL instead of the durable copy.
func (uc *ProcessUseCase) uploadDurableCopy(ctx context.Context, item *domain.QueueItem, data []byte, contentType string) string {
	if uc.storage == nil {
		return ""
	}
	key := fmt.Sprintf("%s/%s", item.ID, sanitizeFilename(item.FileName))
	url, err := uc.storage.Upload(ctx, key, data, contentType)
	if err != nil {
		slog.Warn("storage_upload_failed", "item_id", item.ID, "error", err)
		return ""
	}
	return url
}
