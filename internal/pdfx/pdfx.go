// Package pdfx extracts plain text from PDF files for the upload and
// ingestion pipelines.
package pdfx

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupportedFormat marks payloads that are not parseable PDF documents.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// ErrNoText marks PDFs whose pages carry no extractable text, typically
// scanned images without an OCR layer.
var ErrNoText = errors.New("pdf contains no extractable text")

// ExtractText parses data as a PDF and returns its concatenated page text.
func ExtractText(data []byte) (string, error) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return "", ErrUnsupportedFormat
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	var sb strings.Builder
	if _, err := io.Copy(&sb, plain); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}
