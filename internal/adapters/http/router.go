package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/zapdesk/media-extractor/internal/core/ports"
	"github.com/zapdesk/media-extractor/internal/observability/metrics"
)

type Router struct {
	enqueuer  ports.Enqueuer
	processor ports.Processor
	reader    ports.ItemReader
	metrics   *metrics.HTTPServerMetrics
	service   string
}

func NewRouter(
	enqueuer ports.Enqueuer,
	processor ports.Processor,
	reader ports.ItemReader,
	httpMetrics *metrics.HTTPServerMetrics,
	service string,
) *Router {
	return &Router{
		enqueuer:  enqueuer,
		processor: processor,
		reader:    reader,
		metrics:   httpMetrics,
		service:   service,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/queue/items", rt.enqueueItem)
	mux.HandleFunc("/v1/queue/items/", rt.getItemByID)
	mux.HandleFunc("/v1/queue/process-next", rt.processNext)

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.service, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type enqueueItemRequest struct {
	WebhookID       string `json:"webhookId"`
	AttachmentIndex *int   `json:"attachmentIndex,omitempty"`
	MediaURL        string `json:"mediaUrl"`
	MimeType        string `json:"mimeType"`
	MediaType       string `json:"mediaType"`
	FileName        string `json:"fileName"`
}

func (rt *Router) enqueueItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req enqueueItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	item, err := rt.enqueuer.Enqueue(r.Context(), ports.EnqueueRequest{
		WebhookID:       req.WebhookID,
		AttachmentIndex: req.AttachmentIndex,
		MediaURL:        req.MediaURL,
		DeclaredMime:    req.MimeType,
		MediaType:       req.MediaType,
		FileName:        req.FileName,
	})
	if err != nil {
		rt.recordEnqueue(req.MediaType, "error")
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	rt.recordEnqueue(req.MediaType, "accepted")
	writeJSON(w, http.StatusAccepted, item)
}

func (rt *Router) getItemByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/queue/items/")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "item id is required"})
		return
	}

	item, err := rt.reader.GetByID(r.Context(), id)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// processNext runs one claim-and-extract cycle. An attempt failure that was
// recorded by the retry policy is still a handled request, so the response is
// 200 with success=false rather than an error status.
func (rt *Router) processNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	outcome, err := rt.processor.ProcessNext(r.Context())
	if err != nil && !outcome.Processed {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (rt *Router) recordEnqueue(mediaType, result string) {
	if rt.metrics == nil {
		return
	}
	rt.metrics.RecordEnqueue(rt.service, mediaType, result)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
