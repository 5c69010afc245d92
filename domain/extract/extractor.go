// Package extract turns agenda documents (PDF packets, HTML agendas) into
// plain text suitable for summarisation, with a quality score so callers can
// skip garbage output instead of feeding it to a model.
package extract

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"

	"go.uber.org/fx"

	"github.com/engagic/engagic/domain/vendors"
	"github.com/engagic/engagic/pkg/apperror"
	"github.com/engagic/engagic/pkg/logger"
)

// Quality classifies extracted text.
const (
	QualityGood = "good"
	QualityPoor = "poor"
)

// Method records which extraction path produced the text.
const (
	MethodPDF  = "pdf"
	MethodHTML = "html"
)

// Result is one extracted document. Quality "poor" is returned rather than
// retried; the fields leave room for a second extraction strategy upstream.
type Result struct {
	Text        string
	Quality     string
	Method      string
	ContentHash string
	Truncated   bool
	PageCount   int
}

// Archiver stores raw fetched bytes content-addressed. Optional.
type Archiver interface {
	Store(ctx context.Context, hash string, body []byte, contentType string) error
}

// Extractor downloads documents through the shared vendor client and
// extracts their text.
type Extractor struct {
	client  *vendors.Client
	archive Archiver
	log     *slog.Logger
}

// Params collects the extractor's dependencies.
type Params struct {
	fx.In

	Client  *vendors.Client
	Archive Archiver `optional:"true"`
	Log     *slog.Logger
}

// NewExtractor builds an Extractor.
func NewExtractor(p Params) *Extractor {
	return &Extractor{
		client:  p.Client,
		archive: p.Archive,
		log:     p.Log.With(logger.Scope("extract")),
	}
}

// Extract fetches url and returns its text. Download failures and documents
// with no recoverable text return ErrExtraction.
func (e *Extractor) Extract(ctx context.Context, url string) (*Result, error) {
	dl, err := e.client.Download(ctx, url)
	if err != nil {
		return nil, apperror.ErrExtraction.WithMessagef("download %s", url).WithInternal(err)
	}
	if len(dl.Body) == 0 {
		return nil, apperror.ErrExtraction.WithMessagef("empty document at %s", url)
	}

	hash := ContentHash(dl.Body)
	if e.archive != nil {
		if err := e.archive.Store(ctx, hash, dl.Body, dl.ContentType); err != nil {
			// Archival is best-effort; extraction proceeds regardless
			e.log.Warn("archive store failed", slog.String("url", url), logger.Error(err))
		}
	}

	var result *Result
	if isPDF(dl) {
		result, err = e.extractPDF(dl.Body)
	} else {
		result, err = e.extractHTML(dl.Body, dl.FinalURL)
	}
	if err != nil {
		return nil, err
	}

	result.ContentHash = hash
	result.Truncated = dl.Truncated
	result.Quality = scoreQuality(result.Text)

	e.log.Debug("extracted document",
		slog.String("url", url),
		slog.String("method", result.Method),
		slog.String("quality", result.Quality),
		slog.Int("chars", len(result.Text)),
		slog.Int("pages", result.PageCount),
	)

	return result, nil
}

// ContentHash returns the sha256 hex digest of body.
func ContentHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func isPDF(dl *vendors.Download) bool {
	if strings.Contains(strings.ToLower(dl.ContentType), "pdf") {
		return true
	}
	return bytes.HasPrefix(dl.Body, []byte("%PDF-"))
}
