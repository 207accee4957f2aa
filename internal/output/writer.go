package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/sirupsen/logrus"

	"github.com/snoozleEmily/transcriptor/internal/logging"
	"github.com/snoozleEmily/transcriptor/internal/pipeline"
)

// ErrEmptyText is returned when there is nothing to save
var ErrEmptyText = errors.New("transcript text is empty")

const (
	pdfFontSize   = 11
	pdfLineHeight = 5.5
	pdfMargin     = 20
)

// Writer saves transcripts as plain text or PDF documents
type Writer struct {
	// Title is printed at the top of PDF documents when set
	Title  string
	logger *logrus.Entry
}

// NewWriter creates a writer. A nil logger discards diagnostics.
func NewWriter(title string, logger *logrus.Entry) *Writer {
	return &Writer{
		Title:  title,
		logger: logging.OrNop(logger).WithField("component", "output"),
	}
}

// Save writes text to destination in the requested format, creating
// missing parent directories
func (w *Writer) Save(ctx context.Context, text string, kind pipeline.OutputKind, destination string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if destination == "" {
		return errors.New("destination path is empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0o750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch kind {
	case pipeline.OutputPDF:
		data, err = w.renderPDF(text)
	default:
		data = []byte(text)
		if !strings.HasSuffix(text, "\n") {
			data = append(data, '\n')
		}
	}
	if err != nil {
		return err
	}

	if err := writeFile(destination, data); err != nil {
		return err
	}

	w.logger.WithFields(logrus.Fields{
		"path":  destination,
		"kind":  kind.String(),
		"bytes": len(data),
	}).Info("Transcript saved")
	return nil
}

func (w *Writer) renderPDF(text string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)
	pdf.SetCreator("transcriptor", true)

	// Core fonts are cp1252; translate so accented speech renders
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 10, fmt.Sprintf("%d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	if w.Title != "" {
		pdf.SetTitle(w.Title, true)
		pdf.SetFont("Helvetica", "B", 16)
		pdf.MultiCell(0, 8, tr(w.Title), "", "L", false)
		pdf.Ln(4)
	}

	pdf.SetFont("Helvetica", "", pdfFontSize)
	for i, paragraph := range strings.Split(text, "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		if i > 0 {
			pdf.Ln(pdfLineHeight / 2)
		}
		// Notes sections open with a "# Heading" line
		if heading, body, ok := splitHeading(paragraph); ok {
			pdf.SetFont("Helvetica", "B", pdfFontSize+2)
			pdf.MultiCell(0, pdfLineHeight+1, tr(heading), "", "L", false)
			pdf.SetFont("Helvetica", "", pdfFontSize)
			if body == "" {
				continue
			}
			paragraph = body
		}
		pdf.MultiCell(0, pdfLineHeight, tr(paragraph), "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func splitHeading(paragraph string) (heading, body string, ok bool) {
	if !strings.HasPrefix(paragraph, "# ") {
		return "", "", false
	}
	heading, body, _ = strings.Cut(paragraph, "\n")
	return strings.TrimSpace(strings.TrimPrefix(heading, "# ")), strings.TrimSpace(body), true
}

// writeFile replaces path through a temporary sibling so readers never see
// a partial document
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}
