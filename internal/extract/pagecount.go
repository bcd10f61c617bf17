package extract

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PDFPageCount returns the number of pages reported by pdfcpu. Capture uses it for
// diagnostics only; PDFToText does not depend on it.
func PDFPageCount(b []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(b), nil)
	if err != nil {
		return 0, fmt.Errorf("pdf page count: %w", err)
	}
	return n, nil
}
