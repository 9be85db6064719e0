package pdfx

import (
	"bytes"
	"compress/zlib"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"regexp"
	"strconv"
)

// minImageBytes keeps small logos and icons out of the OCR fallback.
const minImageBytes = 1000

// ImageFinder locates the best raster image embedded in a PDF so a scanned
// document with no text layer can still go through OCR. Search order: a direct
// JPEG byte stream, then declared DCTDecode image streams (optionally wrapped
// in FlateDecode), then raw pixel streams matched against declared
// width/height/bit-depth/color-space metadata.
type ImageFinder struct{}

func NewImageFinder() *ImageFinder {
	return &ImageFinder{}
}

func (f *ImageFinder) LargestImage(data []byte) ([]byte, error) {
	if img := directJPEG(data); len(img) >= minImageBytes {
		return img, nil
	}
	if img := largestDCTStream(data); len(img) >= minImageBytes {
		return img, nil
	}
	img, err := largestRawImage(data)
	if err != nil {
		return nil, err
	}
	if len(img) >= minImageBytes {
		return img, nil
	}
	return nil, nil
}

var (
	jpegSOI = []byte{0xFF, 0xD8, 0xFF}
	jpegEOI = []byte{0xFF, 0xD9}
)

func directJPEG(data []byte) []byte {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		return nil
	}
	end := bytes.LastIndex(data, jpegEOI)
	if end <= start {
		return nil
	}
	return data[start : end+len(jpegEOI)]
}

type pdfStream struct {
	dict []byte
	data []byte
}

var streamStart = []byte("stream")
var streamEnd = []byte("endstream")

// streams enumerates stream objects with their immediately preceding
// dictionaries. Stream lengths are delimited by the endstream keyword rather
// than /Length, which may be an indirect reference.
func streams(data []byte) []pdfStream {
	var out []pdfStream
	offset := 0
	for {
		idx := bytes.Index(data[offset:], streamStart)
		if idx < 0 {
			return out
		}
		pos := offset + idx
		offset = pos + len(streamStart)

		dict := dictBefore(data, pos)
		if dict == nil {
			continue
		}

		body := data[pos+len(streamStart):]
		if len(body) > 0 && body[0] == '\r' {
			body = body[1:]
		}
		if len(body) > 0 && body[0] == '\n' {
			body = body[1:]
		}
		end := bytes.Index(body, streamEnd)
		if end < 0 {
			continue
		}
		out = append(out, pdfStream{dict: dict, data: bytes.TrimRight(body[:end], "\r\n")})
	}
}

// dictBefore walks backwards from the stream keyword and returns the balanced
// <<...>> dictionary that precedes it.
func dictBefore(data []byte, streamPos int) []byte {
	end := bytes.LastIndex(data[:streamPos], []byte(">>"))
	if end < 0 {
		return nil
	}
	depth := 0
	for i := end; i >= 1; i-- {
		if data[i-1] == '>' && data[i] == '>' {
			depth++
			i--
			continue
		}
		if data[i-1] == '<' && data[i] == '<' {
			depth--
			if depth == 0 {
				return data[i-1 : end+2]
			}
			i--
		}
	}
	return nil
}

func largestDCTStream(data []byte) []byte {
	var best []byte
	for _, s := range streams(data) {
		if !bytes.Contains(s.dict, []byte("/DCTDecode")) {
			continue
		}
		payload := s.data
		if bytes.Contains(s.dict, []byte("/FlateDecode")) {
			inflated, err := inflate(payload)
			if err != nil {
				continue
			}
			payload = inflated
		}
		if !bytes.HasPrefix(payload, jpegSOI) {
			continue
		}
		if len(payload) > len(best) {
			best = payload
		}
	}
	return best
}

var (
	widthPattern  = regexp.MustCompile(`/Width\s+(\d+)`)
	heightPattern = regexp.MustCompile(`/Height\s+(\d+)`)
	bitsPattern   = regexp.MustCompile(`/BitsPerComponent\s+(\d+)`)
)

type rawImageMeta struct {
	width, height, bits int
	components          int
}

func parseRawImageMeta(dict []byte) (rawImageMeta, bool) {
	if !bytes.Contains(dict, []byte("/Image")) {
		return rawImageMeta{}, false
	}
	if bytes.Contains(dict, []byte("/DCTDecode")) {
		return rawImageMeta{}, false
	}

	meta := rawImageMeta{bits: 8}
	if m := widthPattern.FindSubmatch(dict); m != nil {
		meta.width, _ = strconv.Atoi(string(m[1]))
	}
	if m := heightPattern.FindSubmatch(dict); m != nil {
		meta.height, _ = strconv.Atoi(string(m[1]))
	}
	if m := bitsPattern.FindSubmatch(dict); m != nil {
		meta.bits, _ = strconv.Atoi(string(m[1]))
	}
	if meta.width <= 0 || meta.height <= 0 {
		return rawImageMeta{}, false
	}

	switch {
	case bytes.Contains(dict, []byte("/DeviceRGB")):
		meta.components = 3
	case bytes.Contains(dict, []byte("/DeviceGray")):
		meta.components = 1
	default:
		return rawImageMeta{}, false
	}
	if meta.bits != 1 && meta.bits != 8 {
		return rawImageMeta{}, false
	}
	if meta.bits == 1 && meta.components != 1 {
		return rawImageMeta{}, false
	}
	return meta, true
}

func (m rawImageMeta) expectedSize() int {
	if m.bits == 1 {
		return ((m.width + 7) / 8) * m.height
	}
	return m.width * m.height * m.components
}

// largestRawImage synthesizes a JPEG from the largest raw pixel stream whose
// decompressed length matches its declared geometry. Largest wins so small
// logos do not shadow the scanned page.
func largestRawImage(data []byte) ([]byte, error) {
	var bestPixels []byte
	var bestMeta rawImageMeta

	for _, s := range streams(data) {
		meta, ok := parseRawImageMeta(s.dict)
		if !ok {
			continue
		}

		pixels := s.data
		if bytes.Contains(s.dict, []byte("/FlateDecode")) {
			inflated, err := inflate(pixels)
			if err != nil {
				continue
			}
			pixels = inflated
		}
		if len(pixels) != meta.expectedSize() {
			continue
		}
		if len(pixels) > len(bestPixels) {
			bestPixels = pixels
			bestMeta = meta
		}
	}

	if bestPixels == nil {
		return nil, nil
	}
	return encodeJPEG(bestPixels, bestMeta)
}

func encodeJPEG(pixels []byte, meta rawImageMeta) ([]byte, error) {
	var img image.Image
	switch {
	case meta.bits == 1:
		gray := image.NewGray(image.Rect(0, 0, meta.width, meta.height))
		rowBytes := (meta.width + 7) / 8
		for y := 0; y < meta.height; y++ {
			for x := 0; x < meta.width; x++ {
				bit := pixels[y*rowBytes+x/8] >> (7 - uint(x%8)) & 1
				if bit == 1 {
					gray.SetGray(x, y, color.Gray{Y: 255})
				}
			}
		}
		img = gray
	case meta.components == 1:
		gray := image.NewGray(image.Rect(0, 0, meta.width, meta.height))
		copy(gray.Pix, pixels)
		img = gray
	default:
		rgba := image.NewRGBA(image.Rect(0, 0, meta.width, meta.height))
		for i := 0; i < meta.width*meta.height; i++ {
			rgba.Pix[i*4] = pixels[i*3]
			rgba.Pix[i*4+1] = pixels[i*3+1]
			rgba.Pix[i*4+2] = pixels[i*3+2]
			rgba.Pix[i*4+3] = 255
		}
		img = rgba
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(data []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	const maxInflated = 64 << 20
	out, err := io.ReadAll(io.LimitReader(reader, maxInflated))
	if err != nil {
		return nil, err
	}
	return out, nil
}
