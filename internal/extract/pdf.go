package extract

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/writingtools/internal/metrics"
)

// Doc abstracts a paginated document for text extraction.
type Doc interface {
	NumPage() int
	Page(i int) (Page, error)
	Close() error
}

// Page abstracts a single page.
type Page interface {
	Text() (string, error)
	Close()
}

// Opener turns raw bytes into a Doc.
type Opener interface {
	Open(b []byte) (Doc, error)
}

// defaultOpener is provided in pdf_fitz.go using go-fitz.
var defaultOpener Opener

// setDefaultOpener swaps the backend, used by tests.
func setDefaultOpener(o Opener) { defaultOpener = o }

// PDFToText returns the concatenated text of every page in order, with no separator.
// Pages that fail to yield text contribute "". Bytes that cannot be opened at all
// produce "". It never fails.
func PDFToText(b []byte) (text string) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("pdf extraction aborted")
			metrics.IncExtractionDegraded("pdf")
			text = ""
		}
	}()

	if len(b) == 0 || defaultOpener == nil {
		return ""
	}
	d, err := defaultOpener.Open(b)
	if err != nil {
		log.Debug().Err(err).Int("bytes", len(b)).Msg("pdf open failed")
		metrics.IncExtractionDegraded("pdf")
		return ""
	}
	defer d.Close()

	var sb strings.Builder
	failed := 0
	for i := 0; i < d.NumPage(); i++ {
		p, err := d.Page(i)
		if err != nil {
			failed++
			continue
		}
		s, err := p.Text()
		p.Close()
		if err != nil {
			failed++
			continue
		}
		sb.WriteString(s)
	}
	if failed > 0 {
		log.Warn().Int("failed_pages", failed).Int("pages", d.NumPage()).Msg("pdf pages without text")
		metrics.IncExtractionDegraded("pdf_page")
	}
	return sb.String()
}
