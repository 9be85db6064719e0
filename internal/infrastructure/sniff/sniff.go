package sniff

import (
	"bytes"

	"github.com/zapdesk/media-extractor/internal/core/domain"
)

// Sniffer resolves the authoritative MIME type for a payload. Declared types on
// inbound webhook attachments are frequently wrong or missing, so magic-byte
// evidence always wins over the declared type when the two disagree.
type Sniffer struct{}

func New() *Sniffer {
	return &Sniffer{}
}

type signature struct {
	prefix []byte
	offset int
	mime   string
}

var signatures = []signature{
	{prefix: []byte{0xFF, 0xD8, 0xFF}, mime: "image/jpeg"},
	{prefix: []byte{0x89, 0x50, 0x4E, 0x47}, mime: "image/png"},
	{prefix: []byte("GIF8"), mime: "image/gif"},
	{prefix: []byte("%PDF"), mime: "application/pdf"},
	{prefix: []byte("Rar!\x1a\x07"), mime: "application/x-rar-compressed"},
	{prefix: []byte("PK\x03\x04"), mime: "application/zip"},
	{prefix: []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, mime: "application/msword"},
	{prefix: []byte("ID3"), mime: "audio/mpeg"},
	{prefix: []byte{0xFF, 0xFB}, mime: "audio/mpeg"},
	{prefix: []byte{0xFF, 0xF3}, mime: "audio/mpeg"},
	{prefix: []byte{0xFF, 0xF2}, mime: "audio/mpeg"},
}

var heicBrands = [][]byte{
	[]byte("ftypheic"),
	[]byte("ftypheix"),
	[]byte("ftypheif"),
	[]byte("ftypmif1"),
	[]byte("ftypmsf1"),
}

func (s *Sniffer) Sniff(data []byte, declaredMime string) domain.ResolvedType {
	if mime := detectMagic(data); mime != "" {
		return domain.ResolvedType{Mime: mime, MediaType: MediaTypeForMime(mime)}
	}
	if isGenericMime(declaredMime) {
		return domain.ResolvedType{Mime: "application/octet-stream", MediaType: domain.MediaUnknown}
	}
	return domain.ResolvedType{Mime: declaredMime, MediaType: MediaTypeForMime(declaredMime)}
}

func detectMagic(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	if bytes.HasPrefix(data, []byte("RIFF")) && len(data) >= 12 && bytes.Equal(data[8:12], []byte("WEBP")) {
		return "image/webp"
	}
	if len(data) >= 12 {
		for _, brand := range heicBrands {
			if bytes.Equal(data[4:12], brand) {
				return "image/heic"
			}
		}
	}
	for _, sig := range signatures {
		if len(data) >= sig.offset+len(sig.prefix) && bytes.Equal(data[sig.offset:sig.offset+len(sig.prefix)], sig.prefix) {
			return sig.mime
		}
	}
	if looksLikeEmail(data) {
		return "message/rfc822"
	}
	if looksLikeHTML(data) {
		return "text/html"
	}
	return ""
}

var emailHeaders = [][]byte{
	[]byte("Received:"),
	[]byte("Return-Path:"),
	[]byte("Delivered-To:"),
	[]byte("MIME-Version:"),
}

func looksLikeEmail(data []byte) bool {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	for _, h := range emailHeaders {
		if bytes.HasPrefix(head, h) || bytes.Contains(head, append([]byte("\n"), h...)) {
			return true
		}
	}
	return false
}

func looksLikeHTML(data []byte) bool {
	head := bytes.TrimLeft(data, " \t\r\n")
	if len(head) > 64 {
		head = head[:64]
	}
	lower := bytes.ToLower(head)
	return bytes.HasPrefix(lower, []byte("<!doctype html")) || bytes.HasPrefix(lower, []byte("<html"))
}

func isGenericMime(mime string) bool {
	switch mime {
	case "", "application/octet-stream", "binary/octet-stream", "application/unknown", "unknown/unknown":
		return true
	default:
		return false
	}
}

// MediaTypeForMime maps an authoritative MIME type to the pipeline's closed
// media-type set.
func MediaTypeForMime(mime string) domain.MediaType {
	switch mime {
	case "image/jpeg", "image/png", "image/gif", "image/webp", "image/bmp", "image/tiff":
		return domain.MediaImage
	case "application/pdf":
		return domain.MediaPDF
	case "application/zip",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/msword":
		return domain.MediaDocx
	case "audio/mpeg", "audio/mp4", "audio/ogg", "audio/wav", "audio/aac", "audio/amr", "audio/opus":
		return domain.MediaAudio
	}
	switch {
	case hasPrefix(mime, "image/"):
		return domain.MediaImage
	case hasPrefix(mime, "audio/"):
		return domain.MediaAudio
	case hasPrefix(mime, "video/"):
		return domain.MediaVideo
	default:
		return domain.MediaUnknown
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
