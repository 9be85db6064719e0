package usecase

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zapdesk/media-extractor/internal/core/domain"
)

type processedCall struct {
	id     string
	status domain.ItemStatus
	result domain.ExtractionResult
}

type failedCall struct {
	id       string
	outcome  domain.FailureOutcome
	message  string
	failedAt time.Time
}

type queueRepoFake struct {
	items     []domain.QueueItem
	fetchErr  error
	claimErr  map[string]error
	createErr error

	created      []*domain.QueueItem
	claimed      []string
	processed    []processedCall
	failed       []failedCall
	unresolvable []string
}

func (f *queueRepoFake) Create(_ context.Context, item *domain.QueueItem) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, item)
	return nil
}

func (f *queueRepoFake) GetByID(context.Context, string) (*domain.QueueItem, error) {
	return nil, domain.ErrItemNotFound
}

func (f *queueRepoFake) FetchQueued(context.Context, int) ([]domain.QueueItem, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make([]domain.QueueItem, len(f.items))
	copy(out, f.items)
	return out, nil
}

func (f *queueRepoFake) Claim(_ context.Context, id string, _ time.Time) error {
	if err := f.claimErr[id]; err != nil {
		return err
	}
	f.claimed = append(f.claimed, id)
	return nil
}

func (f *queueRepoFake) MarkProcessed(_ context.Context, id string, status domain.ItemStatus, result domain.ExtractionResult, _ time.Time) error {
	f.processed = append(f.processed, processedCall{id: id, status: status, result: result})
	return nil
}

func (f *queueRepoFake) MarkFailed(_ context.Context, id string, outcome domain.FailureOutcome, message string, failedAt time.Time) error {
	f.failed = append(f.failed, failedCall{id: id, outcome: outcome, message: message, failedAt: failedAt})
	return nil
}

func (f *queueRepoFake) MarkUnresolvable(_ context.Context, id string, _ string, _ time.Time) error {
	f.unresolvable = append(f.unresolvable, id)
	return nil
}

type downloaderFake struct {
	data  []byte
	err   error
	calls []string
}

func (f *downloaderFake) Fetch(_ context.Context, url string) ([]byte, error) {
	f.calls = append(f.calls, url)
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

type snifferFake struct {
	resolved domain.ResolvedType
}

func (f *snifferFake) Sniff([]byte, string) domain.ResolvedType { return f.resolved }

type storageFake struct {
	err  error
	keys []string
}

func (f *storageFake) Upload(_ context.Context, key string, _ []byte, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	return "https://cdn.example.com/" + key, nil
}

type visionFake struct {
	text      string
	textErr   error
	labels    []string
	labelsErr error
	textURLs  []string
}

func (f *visionFake) DetectText(_ context.Context, url string) (string, error) {
	f.textURLs = append(f.textURLs, url)
	if f.textErr != nil {
		return "", f.textErr
	}
	return f.text, nil
}

func (f *visionFake) DetectLabels(context.Context, string) ([]string, error) {
	if f.labelsErr != nil {
		return nil, f.labelsErr
	}
	return f.labels, nil
}

type transcriberFake struct {
	text string
	err  error
}

func (f *transcriberFake) Transcribe(context.Context, []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type pdfTextFake struct {
	text string
	err  error
}

func (f *pdfTextFake) ExtractText([]byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type pdfImagesFake struct {
	img []byte
	err error
}

func (f *pdfImagesFake) LargestImage([]byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.img, nil
}

type wordFake struct {
	text string
	err  error
}

func (f *wordFake) Extract([]byte, string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type pipelineFakes struct {
	repo        *queueRepoFake
	downloader  *downloaderFake
	sniffer     *snifferFake
	storage     *storageFake
	vision      *visionFake
	transcriber *transcriberFake
	pdfText     *pdfTextFake
	pdfImages   *pdfImagesFake
	word        *wordFake
}

func newPipelineFakes() *pipelineFakes {
	return &pipelineFakes{
		repo:        &queueRepoFake{},
		downloader:  &downloaderFake{data: bytes.Repeat([]byte{0xAB}, 2048)},
		sniffer:     &snifferFake{resolved: domain.ResolvedType{Mime: "image/jpeg", MediaType: domain.MediaImage}},
		storage:     &storageFake{},
		vision:      &visionFake{},
		transcriber: &transcriberFake{},
		pdfText:     &pdfTextFake{},
		pdfImages:   &pdfImagesFake{},
		word:        &wordFake{},
	}
}

func (f *pipelineFakes) usecase() *ProcessUseCase {
	return NewProcessUseCase(
		f.repo, f.downloader, f.sniffer, f.storage,
		f.vision, f.transcriber, f.pdfText, f.pdfImages, f.word, 50,
	)
}

func queuedItem(id string, mediaType domain.MediaType) domain.QueueItem {
	return domain.QueueItem{
		ID:          id,
		WebhookID:   "wh-" + id,
		MediaURL:    "https://media.example.com/" + id,
		MediaType:   mediaType,
		FileName:    id + ".bin",
		Status:      domain.StatusQueued,
		MaxAttempts: domain.DefaultMaxAttempts,
	}
}

func TestProcessNextEmptyQueue(t *testing.T) {
	f := newPipelineFakes()

	outcome, err := f.usecase().ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Processed {
		t.Fatal("expected no item processed on an empty queue")
	}
}

func TestProcessNextImageOCRSuccess(t *testing.T) {
	f := newPipelineFakes()
	f.repo.items = []domain.QueueItem{queuedItem("item-1", domain.MediaImage)}
	f.vision.text = "boleto vencimento 10/09"

	outcome, err := f.usecase().ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Processed || !outcome.Success {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.ProcessingMethod != "google-vision-ocr" {
		t.Fatalf("unexpected method %q", outcome.ProcessingMethod)
	}
	if len(f.repo.processed) != 1 {
		t.Fatalf("expected one MarkProcessed call, got %d", len(f.repo.processed))
	}
	call := f.repo.processed[0]
	if call.status != domain.StatusDone {
		t.Fatalf("expected done, got %s", call.status)
	}
	if call.result.Text != "boleto vencimento 10/09" {
		t.Fatalf("unexpected text %q", call.result.Text)
	}
	if call.result.StoredURL == "" {
		t.Fatal("expected a durable copy URL on the result")
	}
}

func TestProcessNextSkipsLostClaimRace(t *testing.T) {
	f := newPipelineFakes()
	f.repo.items = []domain.QueueItem{
		queuedItem("contested", domain.MediaImage),
		queuedItem("free", domain.MediaImage),
	}
	f.repo.claimErr = map[string]error{
		"contested": domain.ErrClaimConflict,
	}
	f.vision.text = "some text"

	outcome, err := f.usecase().ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.ItemID != "free" {
		t.Fatalf("expected the uncontested item, got %q", outcome.ItemID)
	}
	if len(f.repo.claimed) != 1 || f.repo.claimed[0] != "free" {
		t.Fatalf("unexpected claim sequence %v", f.repo.claimed)
	}
}

func TestProcessNextSkipsBackoffNotElapsed(t *testing.T) {
	f := newPipelineFakes()
	future := time.Now().UTC().Add(2 * time.Minute)
	waiting := queuedItem("waiting", domain.MediaImage)
	waiting.Attempts = 1
	waiting.NextRetryAt = &future
	f.repo.items = []domain.QueueItem{waiting}

	outcome, err := f.usecase().ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Processed {
		t.Fatal("item inside its backoff window must not be claimed")
	}
	if len(f.repo.claimed) != 0 {
		t.Fatalf("unexpected claims %v", f.repo.claimed)
	}
}

func TestProcessNextAudioFailureRequeuesWithBackoff(t *testing.T) {
	f := newPipelineFakes()
	f.repo.items = []domain.QueueItem{queuedItem("voice-1", domain.MediaAudio)}
	f.sniffer.resolved = domain.ResolvedType{Mime: "audio/ogg", MediaType: domain.MediaAudio}
	f.transcriber.err = errors.New("upstream 503")

	outcome, err := f.usecase().ProcessNext(context.Background())
	if err == nil {
		t.Fatal("expected the attempt error to propagate")
	}
	if !outcome.Processed || outcome.Success {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if len(f.repo.failed) != 1 {
		t.Fatalf("expected one MarkFailed call, got %d", len(f.repo.failed))
	}
	call := f.repo.failed[0]
	if call.outcome.Status != domain.StatusQueued {
		t.Fatalf("first failure must requeue, got %s", call.outcome.Status)
	}
	if call.outcome.Attempts != 1 {
		t.Fatalf("expected attempts=1, got %d", call.outcome.Attempts)
	}
	if call.outcome.NextRetryAt == nil {
		t.Fatal("expected a retry timestamp")
	}
	if got := call.outcome.NextRetryAt.Sub(call.failedAt); got != 30*time.Second {
		t.Fatalf("expected 30s backoff, got %s", got)
	}
	if !strings.Contains(call.message, "upstream 503") {
		t.Fatalf("error message %q should carry the cause", call.message)
	}
}

func TestProcessNextFinalFailureIsTerminal(t *testing.T) {
	f := newPipelineFakes()
	item := queuedItem("voice-2", domain.MediaAudio)
	item.Attempts = 2
	f.repo.items = []domain.QueueItem{item}
	f.sniffer.resolved = domain.ResolvedType{Mime: "audio/mpeg", MediaType: domain.MediaAudio}
	f.transcriber.err = errors.New("upstream 503")

	_, err := f.usecase().ProcessNext(context.Background())
	if err == nil {
		t.Fatal("expected the attempt error to propagate")
	}
	call := f.repo.failed[0]
	if call.outcome.Status != domain.StatusError {
		t.Fatalf("third failure must be terminal, got %s", call.outcome.Status)
	}
	if call.outcome.Attempts != 3 {
		t.Fatalf("expected attempts=3, got %d", call.outcome.Attempts)
	}
	if call.outcome.NextRetryAt != nil {
		t.Fatal("terminal failure must not schedule a retry")
	}
}

func TestProcessNextDownloadFailureEscalates(t *testing.T) {
	f := newPipelineFakes()
	f.repo.items = []domain.QueueItem{queuedItem("item-dl", domain.MediaImage)}
	f.downloader.err = errors.New("connection reset")

	_, err := f.usecase().ProcessNext(context.Background())
	if err == nil {
		t.Fatal("expected download error to propagate")
	}
	if len(f.repo.failed) != 1 {
		t.Fatalf("expected MarkFailed, got failed=%d", len(f.repo.failed))
	}
	if f.repo.failed[0].outcome.Status != domain.StatusQueued {
		t.Fatalf("download failure must requeue, got %s", f.repo.failed[0].outcome.Status)
	}
}

func TestProcessNextBlankExtractionNeedsReview(t *testing.T) {
	f := newPipelineFakes()
	f.repo.items = []domain.QueueItem{queuedItem("blank-1", domain.MediaImage)}
	// Both vision stages come back empty; the attempt still succeeds.

	outcome, err := f.usecase().ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("blank extraction is still a successful attempt: %+v", outcome)
	}
	call := f.repo.processed[0]
	if call.status != domain.StatusNeedsReview {
		t.Fatalf("expected needs_review, got %s", call.status)
	}
	if call.result.Method != "google-vision-ocr" {
		t.Fatalf("unexpected method %q", call.result.Method)
	}
}

func TestProcessNextImageFallsBackToLabels(t *testing.T) {
	f := newPipelineFakes()
	f.repo.items = []domain.QueueItem{queuedItem("photo-1", domain.MediaImage)}
	f.vision.textErr = errors.New("ocr backend down")
	f.vision.labels = []string{"Dog", "Grass"}

	outcome, err := f.usecase().ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("stage failure must not fail the attempt: %v", err)
	}
	call := f.repo.processed[0]
	if call.status != domain.StatusDone {
		t.Fatalf("expected done, got %s", call.status)
	}
	if call.result.Text != "[Imagem] Dog, Grass" {
		t.Fatalf("unexpected label text %q", call.result.Text)
	}
	if outcome.ProcessingMethod != "google-vision-labels" {
		t.Fatalf("unexpected method %q", outcome.ProcessingMethod)
	}
}

func TestProcessNextSniffOverridesDeclaredType(t *testing.T) {
	f := newPipelineFakes()
	item := queuedItem("lying-mime", domain.MediaDocx)
	item.DeclaredMime = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	f.repo.items = []domain.QueueItem{item}
	f.sniffer.resolved = domain.ResolvedType{Mime: "image/png", MediaType: domain.MediaImage}
	f.vision.text = "screenshot text"

	outcome, err := f.usecase().ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.ProcessingMethod != "google-vision-ocr" {
		t.Fatalf("magic bytes must win over declared type, got %q", outcome.ProcessingMethod)
	}
}

func TestProcessNextSkipPolicy(t *testing.T) {
	cases := []struct {
		name       string
		resolved   domain.ResolvedType
		size       int
		wantMethod string
		wantInText string
	}{
		{
			name:       "html body",
			resolved:   domain.ResolvedType{Mime: "text/html", MediaType: domain.MediaUnknown},
			size:       4000,
			wantMethod: "skipped-html",
			wantInText: "text/html",
		},
		{
			name:       "rar archive",
			resolved:   domain.ResolvedType{Mime: "application/x-rar-compressed", MediaType: domain.MediaUnknown},
			size:       9000,
			wantMethod: "skipped-rar",
			wantInText: "unsupported attachment",
		},
		{
			name:       "tracking pixel",
			resolved:   domain.ResolvedType{Mime: "image/gif", MediaType: domain.MediaImage},
			size:       43,
			wantMethod: "skipped-too-small",
			wantInText: "43 bytes",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newPipelineFakes()
			f.repo.items = []domain.QueueItem{queuedItem("skip-1", domain.MediaImage)}
			f.downloader.data = bytes.Repeat([]byte{'x'}, tc.size)
			f.sniffer.resolved = tc.resolved

			outcome, err := f.usecase().ProcessNext(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if outcome.ProcessingMethod != tc.wantMethod {
				t.Fatalf("expected %q, got %q", tc.wantMethod, outcome.ProcessingMethod)
			}
			call := f.repo.processed[0]
			if call.status != domain.StatusDone {
				t.Fatalf("skips finish as done, got %s", call.status)
			}
			if !strings.Contains(call.result.Text, tc.wantInText) {
				t.Fatalf("placeholder %q should mention %q", call.result.Text, tc.wantInText)
			}
		})
	}
}

func TestProcessNextVideoSkipsDownload(t *testing.T) {
	f := newPipelineFakes()
	f.repo.items = []domain.QueueItem{queuedItem("clip-1", domain.MediaVideo)}

	outcome, err := f.usecase().ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.ProcessingMethod != "skipped-video" {
		t.Fatalf("unexpected method %q", outcome.ProcessingMethod)
	}
	if len(f.downloader.calls) != 0 {
		t.Fatalf("video must not be downloaded, got fetches %v", f.downloader.calls)
	}
	if f.repo.processed[0].status != domain.StatusDone {
		t.Fatalf("blank video finishes done, got %s", f.repo.processed[0].status)
	}
}

func TestProcessNextUnresolvableSource(t *testing.T) {
	f := newPipelineFakes()
	item := queuedItem("no-url", domain.MediaImage)
	item.MediaURL = "   "
	f.repo.items = []domain.QueueItem{item}

	outcome, err := f.usecase().ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("unresolvable source is handled, not propagated: %v", err)
	}
	if !outcome.Processed || outcome.Success {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if len(f.repo.unresolvable) != 1 || f.repo.unresolvable[0] != "no-url" {
		t.Fatalf("expected MarkUnresolvable for no-url, got %v", f.repo.unresolvable)
	}
	if len(f.repo.failed) != 0 {
		t.Fatal("unresolvable source must not consume retry budget")
	}
}

func TestProcessNextStorageFailureIsNonFatal(t *testing.T) {
	f := newPipelineFakes()
	f.repo.items = []domain.QueueItem{queuedItem("item-2", domain.MediaImage)}
	f.storage.err = errors.New("bucket gone")
	f.vision.text = "still extracted"

	outcome, err := f.usecase().ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("upload failure must not fail the attempt: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	// OCR falls back to the original source URL when no durable copy exists.
	if len(f.vision.textURLs) == 0 || f.vision.textURLs[0] != "https://media.example.com/item-2" {
		t.Fatalf("expected OCR against the source URL, got %v", f.vision.textURLs)
	}
	if f.repo.processed[0].result.StoredURL != "" {
		t.Fatal("no stored URL should be recorded when the upload failed")
	}
}

func TestProcessNextPDFTextLayer(t *testing.T) {
	f := newPipelineFakes()
	f.repo.items = []domain.QueueItem{queuedItem("contract", domain.MediaPDF)}
	f.sniffer.resolved = domain.ResolvedType{Mime: "application/pdf", MediaType: domain.MediaPDF}
	f.pdfText.text = strings.Repeat("contrato de prestação de serviços ", 4)

	outcome, err := f.usecase().ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.ProcessingMethod != "pdf-parse" {
		t.Fatalf("unexpected method %q", outcome.ProcessingMethod)
	}
	if f.repo.processed[0].status != domain.StatusDone {
		t.Fatalf("expected done, got %s", f.repo.processed[0].status)
	}
}

func TestProcessNextScannedPDFUsesEmbeddedImage(t *testing.T) {
	f := newPipelineFakes()
	f.repo.items = []domain.QueueItem{queuedItem("scan-1", domain.MediaPDF)}
	f.sniffer.resolved = domain.ResolvedType{Mime: "application/pdf", MediaType: domain.MediaPDF}
	f.pdfText.text = "" // no text layer
	f.pdfImages.img = bytes.Repeat([]byte{0xFF}, 4096)
	f.vision.text = "NOTA FISCAL ELETRÔNICA valor total R$ 1.250,00 emitida em 2026"

	outcome, err := f.usecase().ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.ProcessingMethod != "google-vision-pdf-image" {
		t.Fatalf("unexpected method %q", outcome.ProcessingMethod)
	}
	// The page image must be uploaded before OCR.
	found := false
	for _, key := range f.storage.keys {
		if strings.HasSuffix(key, "/embedded-page.jpg") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected embedded page upload, got keys %v", f.storage.keys)
	}
}

func TestProcessNextDocxExtraction(t *testing.T) {
	f := newPipelineFakes()
	f.repo.items = []domain.QueueItem{queuedItem("memo", domain.MediaDocx)}
	f.sniffer.resolved = domain.ResolvedType{
		Mime:      "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		MediaType: domain.MediaDocx,
	}
	f.word.text = "Ata da reunião de diretoria"

	outcome, err := f.usecase().ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.ProcessingMethod != "docx-extract" {
		t.Fatalf("unexpected method %q", outcome.ProcessingMethod)
	}
	if outcome.ExtractedText != "Ata da reunião de diretoria" {
		t.Fatalf("unexpected text %q", outcome.ExtractedText)
	}
}

func TestProcessNextGenericZipIsSkipped(t *testing.T) {
	f := newPipelineFakes()
	f.repo.items = []domain.QueueItem{queuedItem("archive", domain.MediaDocx)}
	f.sniffer.resolved = domain.ResolvedType{Mime: "application/zip", MediaType: domain.MediaDocx}
	f.word.err = errors.New("word/document.xml not found")

	outcome, err := f.usecase().ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.ProcessingMethod != "skipped-zip" {
		t.Fatalf("unexpected method %q", outcome.ProcessingMethod)
	}
	if f.repo.processed[0].status != domain.StatusDone {
		t.Fatalf("generic zip finishes done, got %s", f.repo.processed[0].status)
	}
}

func TestProcessNextFetchError(t *testing.T) {
	f := newPipelineFakes()
	f.repo.fetchErr = errors.New("db down")

	_, err := f.usecase().ProcessNext(context.Background())
	if err == nil {
		t.Fatal("expected fetch error to propagate")
	}
}
