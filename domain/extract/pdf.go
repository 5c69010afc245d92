package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/engagic/engagic/pkg/apperror"
)

// extractPDF pulls text out of a PDF. pdfcpu works on files, so the body is
// staged in a temp dir and per-page content files are read back in order.
func (e *Extractor) extractPDF(body []byte) (*Result, error) {
	tempDir, err := os.MkdirTemp("", "engagic-pdf-*")
	if err != nil {
		return nil, apperror.ErrExtraction.WithMessage("create temp dir").WithInternal(err)
	}
	defer os.RemoveAll(tempDir)

	tempFile := filepath.Join(tempDir, "doc.pdf")
	if err := os.WriteFile(tempFile, body, 0o644); err != nil {
		return nil, apperror.ErrExtraction.WithMessage("stage pdf").WithInternal(err)
	}

	conf := model.NewDefaultConfiguration()
	pdfCtx, err := api.ReadContextFile(tempFile)
	if err != nil {
		return nil, apperror.ErrExtraction.WithMessage("read pdf").WithInternal(err)
	}
	pageCount := pdfCtx.PageCount

	outDir := filepath.Join(tempDir, "pages")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, apperror.ErrExtraction.WithMessage("create output dir").WithInternal(err)
	}
	if err := api.ExtractContentFile(tempFile, outDir, nil, conf); err != nil {
		return nil, apperror.ErrExtraction.WithMessage("extract pdf content").WithInternal(err)
	}

	pages, err := readPageFiles(outDir)
	if err != nil {
		return nil, err
	}

	var builder strings.Builder
	for i, page := range pages {
		if i > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(page)
	}

	text := strings.TrimSpace(builder.String())
	if text == "" {
		return nil, apperror.ErrExtraction.WithMessage("pdf yielded no text")
	}

	return &Result{
		Text:      text,
		Method:    MethodPDF,
		PageCount: pageCount,
	}, nil
}

// readPageFiles collects pdfcpu's per-page output in page order.
func readPageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperror.ErrExtraction.WithMessage("read extraction output").WithInternal(err)
	}

	type page struct {
		num  int
		text string
	}
	var pages []page
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var num int
		if _, err := fmt.Sscanf(entry.Name(), "Content_page_%d", &num); err != nil {
			if _, err := fmt.Sscanf(entry.Name(), "page_%d", &num); err != nil {
				continue
			}
		}
		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		pages = append(pages, page{num: num, text: string(content)})
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].num < pages[j].num })

	texts := make([]string, 0, len(pages))
	for _, p := range pages {
		texts = append(texts, p.text)
	}
	return texts, nil
}
