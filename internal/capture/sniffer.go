package capture

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/local/writingtools/internal/filetype"
)

// Kind tags the variant held by a Payload.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindPDF   Kind = "pdf"
	KindVideo Kind = "video"
)

// Payload is exactly one extracted piece of content. Text is set for KindText,
// Data for the binary kinds. Format is a hint such as "png" or "mp4".
type Payload struct {
	Kind   Kind
	Text   string
	Data   []byte
	Format string
}

// ReferenceReader loads the bytes behind a referenced file URL.
type ReferenceReader interface {
	ReadReference(ctx context.Context, ref string) ([]byte, error)
}

var videoTypes = []struct{ typ, format string }{
	{TypeMPEG4, "mp4"},
	{TypeQuickTime, "mov"},
	{TypeAVI, "avi"},
	{TypeMatroska, "mkv"},
	{TypeMovie, ""},
}

var imageTypes = []struct{ typ, format string }{
	{TypePNG, "png"},
	{TypeJPEG, "jpeg"},
	{TypeTIFF, "tiff"},
	{TypeGIF, "gif"},
	{TypeImage, ""},
}

var textTypes = []string{TypeUTF8Text, TypeRTF, TypePlainText}

// Sniffer picks the most relevant payload in a Source: PDF, then video, then image,
// then text.
type Sniffer struct {
	refs ReferenceReader
}

// NewSniffer creates a Sniffer. refs may be nil, in which case referenced URLs are ignored.
func NewSniffer(refs ReferenceReader) *Sniffer {
	return &Sniffer{refs: refs}
}

// Detect returns the single highest-priority payload, or false when the source holds
// nothing usable. The source is not modified.
func (s *Sniffer) Detect(ctx context.Context, src Source) (*Payload, bool) {
	if src == nil {
		return nil, false
	}
	if p, ok := s.pdf(ctx, src); ok {
		return p, true
	}
	if p, ok := s.video(ctx, src); ok {
		return p, true
	}
	if p, ok := image(src); ok {
		return p, true
	}
	if text := TextOf(src); text != "" {
		return &Payload{Kind: KindText, Text: text}, true
	}
	return nil, false
}

func (s *Sniffer) pdf(ctx context.Context, src Source) (*Payload, bool) {
	if b, ok := src.Data(TypePDF); ok && len(b) > 0 {
		return &Payload{Kind: KindPDF, Data: b, Format: "pdf"}, true
	}
	for _, ref := range src.URLs() {
		if !filetype.IsPDFPath(ref) {
			continue
		}
		if b, ok := s.read(ctx, ref); ok {
			return &Payload{Kind: KindPDF, Data: b, Format: "pdf"}, true
		}
	}
	return nil, false
}

func (s *Sniffer) video(ctx context.Context, src Source) (*Payload, bool) {
	for _, vt := range videoTypes {
		b, ok := src.Data(vt.typ)
		if !ok || len(b) == 0 {
			continue
		}
		format := vt.format
		if format == "" {
			format = filetype.VideoFormat(b)
		}
		return &Payload{Kind: KindVideo, Data: b, Format: format}, true
	}
	for _, ref := range src.URLs() {
		if !filetype.IsVideoPath(ref) {
			continue
		}
		if b, ok := s.read(ctx, ref); ok {
			return &Payload{Kind: KindVideo, Data: b, Format: filetype.ExtOf(ref)}, true
		}
	}
	return nil, false
}

// image returns the first matching image type only; later image types are ignored.
func image(src Source) (*Payload, bool) {
	for _, it := range imageTypes {
		b, ok := src.Data(it.typ)
		if !ok || len(b) == 0 {
			continue
		}
		format := it.format
		if format == "" {
			if format = filetype.ImageFormat(b); format == "" {
				format = "image"
			}
		}
		return &Payload{Kind: KindImage, Data: b, Format: format}, true
	}
	return nil, false
}

func (s *Sniffer) read(ctx context.Context, ref string) ([]byte, bool) {
	if s.refs == nil {
		return nil, false
	}
	b, err := s.refs.ReadReference(ctx, ref)
	if err != nil || len(b) == 0 {
		log.Debug().Err(err).Str("ref", ref).Msg("skipping unreadable reference")
		return nil, false
	}
	return b, true
}

// TextOf returns the first non-blank text entry in src, in type priority order.
func TextOf(src Source) string {
	if src == nil {
		return ""
	}
	for _, typ := range textTypes {
		b, ok := src.Data(typ)
		if !ok || !utf8.Valid(b) {
			continue
		}
		if s := string(b); strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
