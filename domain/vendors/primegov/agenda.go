package primegov

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"

	"github.com/PuerkitoBio/goquery"

	"github.com/engagic/engagic/domain/vendors"
	"github.com/engagic/engagic/pkg/apperror"
	"github.com/engagic/engagic/pkg/logger"
)

// fetchAgendaItems downloads a compiled HTML agenda and parses its items.
func (a *Adapter) fetchAgendaItems(ctx context.Context, agendaURL string) ([]vendors.RawAgendaItem, error) {
	body, err := a.client.Get(ctx, agendaURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, apperror.ErrVendorParsing.WithMessagef("parse compiled agenda at %s", agendaURL).WithInternal(err)
	}
	base, err := url.Parse(agendaURL)
	if err != nil {
		return nil, apperror.ErrVendorParsing.WithMessagef("bad agenda URL %q", agendaURL).WithInternal(err)
	}
	return a.parseAgenda(doc, base), nil
}

// parseAgenda walks the compiled agenda's item rows. Templates differ per
// city but the compiler tags rows with the agenda-item classes; section
// headers carry their own class and are not matched.
func (a *Adapter) parseAgenda(doc *goquery.Document, base *url.URL) []vendors.RawAgendaItem {
	var parsed []vendors.RawAgendaItem
	doc.Find("tr.agenda-item-row, div.agenda-item").Each(func(n int, row *goquery.Selection) {
		cell := row.Find(".agenda-item-title, .agenda-item-text").First()
		title := vendors.CleanText(vendors.OwnText(cell))
		if title == "" {
			title = vendors.CleanText(row.Text())
		}

		item := vendors.RawAgendaItem{
			Title:      title,
			Sequence:   n,
			MatterFile: vendors.ExtractMatterFile(title),
		}
		if line := row.Find(".agenda-item-sponsors").First().Text(); line != "" {
			item.Sponsors = vendors.SplitSponsors(line)
		}

		row.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
			href, _ := link.Attr("href")
			if !vendors.IsDocumentLink(href) {
				return
			}
			if att, ok := vendors.AttachmentFromLink(base, href, link.Text()); ok {
				item.Attachments = append(item.Attachments, att)
			}
		})

		if err := item.Validate(); err != nil {
			a.log.Warn("skipping malformed agenda item",
				slog.Int("sequence", n),
				logger.Error(err))
			return
		}
		parsed = append(parsed, item)
	})
	return parsed
}
