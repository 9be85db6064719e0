package ports

import (
	"context"
	"time"

	"github.com/zapdesk/media-extractor/internal/core/domain"
)

// Enqueuer is the inbound contract for registering attachments awaiting
// extraction.
type Enqueuer interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (*domain.QueueItem, error)
}

// EnqueueRequest carries the attachment reference produced by webhook
// normalization. (WebhookID, AttachmentIndex) is the dedup key.
type EnqueueRequest struct {
	WebhookID       string
	AttachmentIndex *int
	MediaURL        string
	DeclaredMime    string
	MediaType       string
	FileName        string
}

// Processor is the inbound contract for the single "process next" operation.
// Each invocation claims and processes at most one queued item.
type Processor interface {
	ProcessNext(ctx context.Context) (ProcessOutcome, error)
}

// ProcessOutcome reports what one invocation did. Processed is false when the
// queue held no claimable item, which is a no-op success. PriorAttempts and
// ReceivedAt feed worker metrics and stay off the wire.
type ProcessOutcome struct {
	Processed        bool   `json:"processed"`
	ItemID           string `json:"itemId,omitempty"`
	MediaType        string `json:"mediaType,omitempty"`
	Success          bool   `json:"success,omitempty"`
	ExtractedText    string `json:"extractedText,omitempty"`
	ProcessingMethod string `json:"processingMethod,omitempty"`

	PriorAttempts int       `json:"-"`
	ReceivedAt    time.Time `json:"-"`
}

// ItemReader is the inbound read model for queue item state.
type ItemReader interface {
	GetByID(ctx context.Context, id string) (*domain.QueueItem, error)
}
