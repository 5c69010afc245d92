// Package processing drives queue jobs that turn stored meetings and items
// into summaries: extraction, cache lookups, LLM calls, matter canonical
// propagation, and meeting-level topic aggregation.
package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/engagic/engagic/domain/cities"
	"github.com/engagic/engagic/domain/extract"
	"github.com/engagic/engagic/domain/items"
	"github.com/engagic/engagic/domain/matters"
	"github.com/engagic/engagic/domain/meetings"
	"github.com/engagic/engagic/domain/queue"
	"github.com/engagic/engagic/domain/summarize"
	"github.com/engagic/engagic/domain/topics"
	"github.com/engagic/engagic/internal/database"
	"github.com/engagic/engagic/pkg/apperror"
	"github.com/engagic/engagic/pkg/logger"
)

// Processor handles process_meeting and process_item jobs.
type Processor struct {
	db         *bun.DB
	meetings   *meetings.Repository
	items      *items.Repository
	matters    *matters.Repository
	cities     *cities.Repository
	cache      *CacheRepository
	tracker    *matters.Tracker
	extractor  *extract.Extractor
	summarizer *summarize.Service
	log        *slog.Logger
}

// Params collects the processor's dependencies.
type Params struct {
	fx.In

	DB         *bun.DB
	Meetings   *meetings.Repository
	Items      *items.Repository
	Matters    *matters.Repository
	Cities     *cities.Repository
	Cache      *CacheRepository
	Tracker    *matters.Tracker
	Extractor  *extract.Extractor
	Summarizer *summarize.Service
	Log        *slog.Logger
}

// NewProcessor builds the processor.
func NewProcessor(p Params) *Processor {
	return &Processor{
		db:         p.DB,
		meetings:   p.Meetings,
		items:      p.Items,
		matters:    p.Matters,
		cities:     p.Cities,
		cache:      p.Cache,
		tracker:    p.Tracker,
		extractor:  p.Extractor,
		summarizer: p.Summarizer,
		log:        p.Log.With(logger.Scope("processing")),
	}
}

// Kinds lists the job kinds this processor claims.
func (p *Processor) Kinds() []string {
	return []string{queue.KindProcessMeeting, queue.KindProcessItem}
}

// Process runs one claimed job. Database errors propagate so the queue
// retries the job; unknown entities fail it permanently.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Kind {
	case queue.KindProcessMeeting:
		var payload queue.ProcessMeetingPayload
		if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
			return apperror.ErrValidation.WithMessagef("bad payload for job %d", job.ID).WithInternal(err)
		}
		return p.processMeeting(ctx, payload.MeetingID)
	case queue.KindProcessItem:
		var payload queue.ProcessItemPayload
		if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
			return apperror.ErrValidation.WithMessagef("bad payload for job %d", job.ID).WithInternal(err)
		}
		return p.processItem(ctx, payload.ItemID)
	default:
		return apperror.ErrValidation.WithMessagef("unknown job kind %q", job.Kind)
	}
}

func (p *Processor) processMeeting(ctx context.Context, meetingID string) error {
	meeting, err := p.meetings.Get(ctx, meetingID)
	if err != nil {
		return err
	}
	if meeting == nil {
		return apperror.ErrNotFound.WithMessagef("meeting %s no longer exists", meetingID)
	}

	cityName := p.cityName(ctx, meeting.Banana)
	itemList, err := p.items.ListForMeeting(ctx, meetingID)
	if err != nil {
		return err
	}

	if err := p.meetings.UpdateProcessingStatus(ctx, meetingID, meetings.ProcessingProcessing, nil, nil); err != nil {
		return err
	}

	start := time.Now()
	if len(itemList) > 0 {
		err = p.processItemBased(ctx, cityName, meeting, itemList, start)
	} else {
		err = p.processMonolithic(ctx, cityName, meeting, start)
	}
	if err != nil {
		// Leave a failed status behind unless the error is transient, in
		// which case the queue retry will come back through here anyway.
		if errors.Is(err, apperror.ErrDatabase) {
			return err
		}
		if serr := p.meetings.UpdateProcessingStatus(ctx, meetingID, meetings.ProcessingFailed, nil, nil); serr != nil {
			return serr
		}
		return err
	}
	return nil
}

// itemWork tracks one agenda item through the pipeline.
type itemWork struct {
	item *items.AgendaItem

	// adoptMatterID is set when the matter's canonical summary still
	// matches this item's attachments
	adoptMatterID string

	text     string
	textHash string
	summary  *summarize.Summary
	cached   bool
	failed   bool
}

func (p *Processor) processItemBased(ctx context.Context, cityName string, meeting *meetings.Meeting, itemList []items.AgendaItem, start time.Time) error {
	work := make([]*itemWork, 0, len(itemList))
	for i := range itemList {
		work = append(work, &itemWork{item: &itemList[i]})
	}

	// Resolve each item outside any transaction: canonical adoption first,
	// then extraction and the content cache. Only the leftovers pay for a
	// model call.
	var pending []*itemWork
	for _, w := range work {
		urls := w.item.AttachmentURLs()
		if len(urls) == 0 {
			continue
		}

		adopted, err := p.checkCanonical(ctx, w, urls)
		if err != nil {
			return err
		}
		if adopted {
			continue
		}

		if !p.extractForItem(ctx, w, urls) {
			continue
		}

		entry, err := p.cache.Lookup(ctx, w.textHash)
		if err != nil {
			return err
		}
		if entry != nil {
			w.summary = &summarize.Summary{Summary: entry.Summary, Topics: entry.Topics}
			w.cached = true
			continue
		}

		pending = append(pending, w)
	}

	method := meetings.MethodItemBased
	if p.summarizeItems(ctx, cityName, meeting.Title, pending) {
		method = meetings.MethodBatch
	}

	if err := p.storeCacheEntries(ctx, pending, method); err != nil {
		return err
	}

	// All item writes for the meeting land in one transaction, canonical
	// promotion included, so readers never see a half-processed meeting.
	err := database.RunInTx(ctx, p.db, func(ctx context.Context, tx bun.Tx) error {
		txItems := items.NewRepository(tx, p.log)
		txMeetings := meetings.NewRepository(tx, p.log)

		var updates []items.SummaryUpdate
		for _, w := range work {
			// Adopted items get their copy through ApplyCanonicalSummary
			if w.summary == nil || w.adoptMatterID != "" {
				continue
			}
			updates = append(updates, items.SummaryUpdate{
				ItemID:  w.item.ID,
				Summary: w.summary.Summary,
				Topics:  w.summary.Topics,
			})
		}
		if err := txItems.BulkUpdateSummaries(ctx, updates); err != nil {
			return err
		}

		for _, w := range work {
			if w.adoptMatterID != "" {
				if err := txItems.ApplyCanonicalSummary(ctx, w.item.ID, w.adoptMatterID); err != nil {
					return err
				}
				continue
			}
			if w.summary != nil && w.item.MatterID != nil {
				err := p.tracker.PromoteCanonical(ctx, tx, *w.item.MatterID,
					w.summary.Summary, w.summary.Topics, w.item.AttachmentURLs())
				if err != nil {
					return err
				}
			}
		}

		meetingTopics := p.aggregateTopics(work)
		if err := txMeetings.SetTopics(ctx, meeting.ID, meetingTopics); err != nil {
			return err
		}

		elapsed := int(time.Since(start).Milliseconds())
		return txMeetings.UpdateProcessingStatus(ctx, meeting.ID,
			meetings.ProcessingCompleted, &method, &elapsed)
	})
	if err != nil {
		return err
	}

	p.log.Info("processed meeting",
		slog.String("meeting_id", meeting.ID),
		slog.String("method", method),
		slog.Int("items", len(work)),
		slog.Int("summarized", len(pending)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// checkCanonical adopts the matter's stored summary when the item's
// attachments are unchanged since it was written.
func (p *Processor) checkCanonical(ctx context.Context, w *itemWork, urls []string) (bool, error) {
	if w.item.MatterID == nil {
		return false, nil
	}
	matter, err := p.matters.Get(ctx, *w.item.MatterID)
	if err != nil {
		return false, err
	}
	if matter == nil || !matter.HasCanonical() {
		return false, nil
	}
	if matter.AttachmentHash == "" || matter.AttachmentHash != matters.AttachmentHash(urls) {
		return false, nil
	}

	w.adoptMatterID = matter.ID
	w.summary = &summarize.Summary{Summary: *matter.CanonicalSummary, Topics: matter.Topics}
	return true, nil
}

// extractForItem concatenates the text of the item's attachments. Extraction
// failures and poor-quality text leave the item without a summary; the rest
// of the meeting proceeds.
func (p *Processor) extractForItem(ctx context.Context, w *itemWork, urls []string) bool {
	var combined []byte
	for _, url := range urls {
		result, err := p.extractor.Extract(ctx, url)
		if err != nil {
			p.log.Warn("attachment extraction failed",
				slog.String("item_id", w.item.ID), slog.String("url", url), logger.Error(err))
			continue
		}
		if result.Quality == extract.QualityPoor {
			p.log.Warn("attachment text quality poor, skipping",
				slog.String("item_id", w.item.ID), slog.String("url", url))
			continue
		}
		if len(combined) > 0 {
			combined = append(combined, "\n\n"...)
		}
		combined = append(combined, result.Text...)
	}

	if len(combined) == 0 {
		w.failed = true
		return false
	}
	w.text = string(combined)
	w.textHash = extract.ContentHash(combined)
	return true
}

// summarizeItems fills in summaries for the pending items, batching when the
// whole set fits one small-model call. Reports whether the batch path was
// used. Individual failures leave the item unsummarised.
func (p *Processor) summarizeItems(ctx context.Context, cityName, meetingTitle string, pending []*itemWork) bool {
	if len(pending) == 0 {
		return false
	}

	batchItems := make([]summarize.BatchItem, 0, len(pending))
	for _, w := range pending {
		batchItems = append(batchItems, summarize.BatchItem{Title: w.item.Title, Text: w.text})
	}

	if p.summarizer.BatchEligible(batchItems) {
		summaries, err := p.summarizer.SummarizeBatch(ctx, cityName, meetingTitle, batchItems)
		if err == nil {
			for i := range pending {
				pending[i].summary = &summaries[i]
			}
			return true
		}
		p.log.Warn("batch summarisation failed, falling back to per-item calls", logger.Error(err))
	}

	for _, w := range pending {
		summary, err := p.summarizer.SummarizeItem(ctx, summarize.ItemInput{
			City:         cityName,
			MeetingTitle: meetingTitle,
			ItemTitle:    w.item.Title,
			Text:         w.text,
		})
		if err != nil {
			p.log.Warn("item summarisation failed",
				slog.String("item_id", w.item.ID), logger.Error(err))
			w.failed = true
			continue
		}
		w.summary = summary
	}
	return false
}

// storeCacheEntries records fresh summaries in the content cache.
func (p *Processor) storeCacheEntries(ctx context.Context, pending []*itemWork, method string) error {
	for _, w := range pending {
		if w.summary == nil || w.textHash == "" {
			continue
		}
		err := p.cache.Store(ctx, &CacheEntry{
			ContentHash: w.textHash,
			Summary:     w.summary.Summary,
			Topics:      w.summary.Topics,
			Method:      method,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// aggregateTopics rolls item topics up to the meeting, frequency-sorted.
func (p *Processor) aggregateTopics(work []*itemWork) []string {
	perItem := make([][]string, 0, len(work))
	for _, w := range work {
		if w.summary != nil && len(w.summary.Topics) > 0 {
			perItem = append(perItem, w.summary.Topics)
			continue
		}
		if w.adoptMatterID == "" && len(w.item.Topics) > 0 {
			perItem = append(perItem, w.item.Topics)
		}
	}
	return topics.AggregateMeetingTopics(perItem)
}

func (p *Processor) processMonolithic(ctx context.Context, cityName string, meeting *meetings.Meeting, start time.Time) error {
	urls := meeting.PacketURL
	if len(urls) == 0 && meeting.AgendaURL != "" {
		urls = meetings.URLList{meeting.AgendaURL}
	}
	if len(urls) == 0 {
		return apperror.ErrExtraction.WithMessagef("meeting %s has no documents", meeting.ID)
	}

	var combined []byte
	for _, url := range urls {
		result, err := p.extractor.Extract(ctx, url)
		if err != nil {
			p.log.Warn("packet extraction failed",
				slog.String("meeting_id", meeting.ID), slog.String("url", url), logger.Error(err))
			continue
		}
		if result.Quality == extract.QualityPoor {
			continue
		}
		if len(combined) > 0 {
			combined = append(combined, "\n\n"...)
		}
		combined = append(combined, result.Text...)
	}
	if len(combined) == 0 {
		return apperror.ErrExtraction.WithMessagef("no usable text for meeting %s", meeting.ID)
	}

	textHash := extract.ContentHash(combined)
	var summary *summarize.Summary

	entry, err := p.cache.Lookup(ctx, textHash)
	if err != nil {
		return err
	}
	if entry != nil {
		summary = &summarize.Summary{Summary: entry.Summary, Topics: entry.Topics}
	} else {
		summary, err = p.summarizer.SummarizeMeeting(ctx, summarize.MeetingInput{
			City:         cityName,
			MeetingTitle: meeting.Title,
			Text:         string(combined),
		})
		if err != nil {
			// A dead model is not the meeting's fault; the record completes
			// without a summary instead of dead-lettering the job.
			p.log.Warn("monolithic summarisation failed, completing without summary",
				slog.String("meeting_id", meeting.ID), logger.Error(err))
			summary = nil
		} else {
			err = p.cache.Store(ctx, &CacheEntry{
				ContentHash: textHash,
				Summary:     summary.Summary,
				Topics:      summary.Topics,
				Method:      meetings.MethodMonolithic,
			})
			if err != nil {
				return err
			}
		}
	}

	method := meetings.MethodMonolithic
	err = database.RunInTx(ctx, p.db, func(ctx context.Context, tx bun.Tx) error {
		txMeetings := meetings.NewRepository(tx, p.log)
		if summary != nil {
			if err := txMeetings.UpdateSummary(ctx, meeting.ID, summary.Summary, summary.Topics); err != nil {
				return err
			}
		}
		elapsed := int(time.Since(start).Milliseconds())
		return txMeetings.UpdateProcessingStatus(ctx, meeting.ID,
			meetings.ProcessingCompleted, &method, &elapsed)
	})
	if err != nil {
		return err
	}

	p.log.Info("processed meeting",
		slog.String("meeting_id", meeting.ID),
		slog.String("method", method),
		slog.Bool("cache_hit", entry != nil),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// processItem reprocesses one agenda item, then refreshes the meeting's
// aggregated topics from all of its items.
func (p *Processor) processItem(ctx context.Context, itemID string) error {
	item, err := p.items.Get(ctx, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		return apperror.ErrNotFound.WithMessagef("item %s no longer exists", itemID)
	}

	meeting, err := p.meetings.Get(ctx, item.MeetingID)
	if err != nil {
		return err
	}
	if meeting == nil {
		return apperror.ErrNotFound.WithMessagef("meeting %s no longer exists", item.MeetingID)
	}

	cityName := p.cityName(ctx, meeting.Banana)

	w := &itemWork{item: item}
	urls := item.AttachmentURLs()
	if len(urls) == 0 {
		return apperror.ErrExtraction.WithMessagef("item %s has no attachments", itemID)
	}

	adopted, err := p.checkCanonical(ctx, w, urls)
	if err != nil {
		return err
	}
	if !adopted {
		if !p.extractForItem(ctx, w, urls) {
			return apperror.ErrExtraction.WithMessagef("no usable text for item %s", itemID)
		}

		entry, err := p.cache.Lookup(ctx, w.textHash)
		if err != nil {
			return err
		}
		if entry != nil {
			w.summary = &summarize.Summary{Summary: entry.Summary, Topics: entry.Topics}
			w.cached = true
		} else {
			summary, err := p.summarizer.SummarizeItem(ctx, summarize.ItemInput{
				City:         cityName,
				MeetingTitle: meeting.Title,
				ItemTitle:    item.Title,
				Text:         w.text,
			})
			if err != nil {
				return err
			}
			w.summary = summary
			err = p.cache.Store(ctx, &CacheEntry{
				ContentHash: w.textHash,
				Summary:     summary.Summary,
				Topics:      summary.Topics,
				Method:      meetings.MethodItemBased,
			})
			if err != nil {
				return err
			}
		}
	}

	return database.RunInTx(ctx, p.db, func(ctx context.Context, tx bun.Tx) error {
		txItems := items.NewRepository(tx, p.log)
		txMeetings := meetings.NewRepository(tx, p.log)

		if w.adoptMatterID != "" {
			if err := txItems.ApplyCanonicalSummary(ctx, item.ID, w.adoptMatterID); err != nil {
				return err
			}
		} else {
			updates := []items.SummaryUpdate{{
				ItemID:  item.ID,
				Summary: w.summary.Summary,
				Topics:  w.summary.Topics,
			}}
			if err := txItems.BulkUpdateSummaries(ctx, updates); err != nil {
				return err
			}
			if !w.cached && item.MatterID != nil {
				err := p.tracker.PromoteCanonical(ctx, tx, *item.MatterID,
					w.summary.Summary, w.summary.Topics, urls)
				if err != nil {
					return err
				}
			}
		}

		siblings, err := txItems.ListForMeeting(ctx, meeting.ID)
		if err != nil {
			return err
		}
		perItem := make([][]string, 0, len(siblings))
		for i := range siblings {
			if siblings[i].ID == item.ID && w.summary != nil {
				perItem = append(perItem, w.summary.Topics)
				continue
			}
			if len(siblings[i].Topics) > 0 {
				perItem = append(perItem, siblings[i].Topics)
			}
		}
		return txMeetings.SetTopics(ctx, meeting.ID, topics.AggregateMeetingTopics(perItem))
	})
}

// cityName returns a human-readable city label for prompts.
func (p *Processor) cityName(ctx context.Context, banana string) string {
	city, err := p.cities.Get(ctx, cities.GetParams{Banana: banana})
	if err != nil || city == nil {
		return banana
	}
	return fmt.Sprintf("%s, %s", city.Name, city.State)
}
