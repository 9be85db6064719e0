package usecase

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zapdesk/media-extractor/internal/core/domain"
	"github.com/zapdesk/media-extractor/internal/core/ports"
)

type EnqueueUseCase struct {
	repo        ports.QueueRepository
	wake        ports.WakeQueue
	maxAttempts int
}

func NewEnqueueUseCase(repo ports.QueueRepository, wake ports.WakeQueue, maxAttempts int) *EnqueueUseCase {
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}
	return &EnqueueUseCase{repo: repo, wake: wake, maxAttempts: maxAttempts}
}

// Enqueue registers an attachment for extraction. Duplicate
// (webhookId, attachmentIndex) pairs surface domain.ErrDuplicate from the
// repository; callers treat it as an idempotent replay.
func (uc *EnqueueUseCase) Enqueue(ctx context.Context, req ports.EnqueueRequest) (*domain.QueueItem, error) {
	if req.WebhookID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "enqueue", fmt.Errorf("webhookId is required"))
	}
	if req.MediaURL == "" && req.MediaType != string(domain.MediaVideo) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "enqueue", fmt.Errorf("mediaUrl is required"))
	}

	now := time.Now().UTC()
	item := &domain.QueueItem{
		ID:              uuid.NewString(),
		WebhookID:       req.WebhookID,
		AttachmentIndex: req.AttachmentIndex,
		MediaURL:        req.MediaURL,
		DeclaredMime:    req.DeclaredMime,
		MediaType:       domain.ParseMediaType(req.MediaType),
		FileName:        req.FileName,
		Status:          domain.StatusQueued,
		MaxAttempts:     uc.maxAttempts,
		ReceivedAt:      now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := uc.repo.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("create queue item: %w", err)
	}

	if err := uc.wake.PublishItemQueued(ctx, item.ID); err != nil {
		return nil, fmt.Errorf("publish queued event: %w", err)
	}

	return item, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "attachment.bin"
	}
	return base
}
