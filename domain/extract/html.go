package extract

import (
	"bytes"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/engagic/engagic/pkg/apperror"
)

// extractHTML strips boilerplate and converts the remaining document to
// markdown. Markdown keeps headings and lists legible for the model where
// flattened text loses agenda structure.
func (e *Extractor) extractHTML(body []byte, baseURL string) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, apperror.ErrExtraction.WithMessage("parse html").WithInternal(err)
	}

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	root.Find("script, style, noscript, iframe, svg").Remove()
	root.Find("nav, header, footer, aside").Remove()
	root.Find("[class*=sidebar], [class*=cookie], [class*=banner]").Remove()

	// Agenda portals usually wrap the real content in main/article
	content := root.Find("main, article, [role=main]").First()
	if content.Length() == 0 || len(strings.TrimSpace(content.Text())) < minGoodLength {
		content = root
	}

	converter := md.NewConverter(baseURL, true, nil)
	text := strings.TrimSpace(converter.Convert(content))
	if text == "" {
		return nil, apperror.ErrExtraction.WithMessage("html yielded no text")
	}

	return &Result{
		Text:   text,
		Method: MethodHTML,
	}, nil
}
