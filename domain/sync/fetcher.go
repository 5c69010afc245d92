package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/engagic/engagic/domain/cities"
	"github.com/engagic/engagic/domain/items"
	"github.com/engagic/engagic/domain/matters"
	"github.com/engagic/engagic/domain/meetings"
	"github.com/engagic/engagic/domain/queue"
	"github.com/engagic/engagic/domain/vendors"
	"github.com/engagic/engagic/internal/config"
	"github.com/engagic/engagic/internal/database"
	"github.com/engagic/engagic/pkg/apperror"
	"github.com/engagic/engagic/pkg/encryption"
	"github.com/engagic/engagic/pkg/logger"
)

// Fetcher handles sync_city jobs: one job pulls one city's meetings through
// its vendor adapter and enqueues processing work for what changed.
type Fetcher struct {
	db       *bun.DB
	cities   *cities.Repository
	meetings *meetings.Repository
	queue    *queue.Repository
	syncLog  *Repository
	registry *vendors.Registry
	tracker  *matters.Tracker
	crypt    *encryption.Service
	window   vendors.FetchWindow
	log      *slog.Logger
}

// FetcherParams collects the fetcher's dependencies.
type FetcherParams struct {
	fx.In

	DB       *bun.DB
	Cities   *cities.Repository
	Meetings *meetings.Repository
	Queue    *queue.Repository
	SyncLog  *Repository
	Registry *vendors.Registry
	Tracker  *matters.Tracker
	Crypt    *encryption.Service
	Config   *config.Config
	Log      *slog.Logger
}

// NewFetcher builds the fetcher.
func NewFetcher(p FetcherParams) *Fetcher {
	return &Fetcher{
		db:       p.DB,
		cities:   p.Cities,
		meetings: p.Meetings,
		queue:    p.Queue,
		syncLog:  p.SyncLog,
		registry: p.Registry,
		tracker:  p.Tracker,
		crypt:    p.Crypt,
		window: vendors.FetchWindow{
			DaysBack:    p.Config.Vendors.DaysBack,
			DaysForward: p.Config.Vendors.DaysForward,
		},
		log: p.Log.With(logger.Scope("sync.fetcher")),
	}
}

// Kinds lists the job kinds this fetcher claims.
func (f *Fetcher) Kinds() []string {
	return []string{queue.KindSyncCity}
}

// Process runs one claimed sync job. Vendor errors fail the run (and the
// job, so the queue retries it); unknown or inactive cities fail permanently.
func (f *Fetcher) Process(ctx context.Context, job *queue.Job) error {
	var payload queue.SyncCityPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return apperror.ErrValidation.WithMessagef("bad payload for job %d", job.ID).WithInternal(err)
	}
	return f.SyncCity(ctx, payload.Banana)
}

// SyncCity pulls one city's meetings and persists what changed.
func (f *Fetcher) SyncCity(ctx context.Context, banana string) error {
	city, err := f.cities.Get(ctx, cities.GetParams{Banana: banana})
	if err != nil {
		return err
	}
	if city == nil {
		return apperror.ErrNotFound.WithMessagef("city %s no longer exists", banana)
	}
	if city.Status != cities.StatusActive {
		return apperror.ErrValidation.WithMessagef("city %s is not active", banana)
	}

	adapter, err := f.registry.Adapter(vendors.CityRef{
		Banana: city.Banana,
		Name:   city.Name,
		State:  city.State,
		Slug:   city.Slug,
		Vendor: city.Vendor,
		Token:  f.vendorToken(city),
	})
	if err != nil {
		return err
	}

	record, err := f.syncLog.Begin(ctx, uuid.New(), banana)
	if err != nil {
		return err
	}

	found, changed, err := f.run(ctx, city, adapter)
	if err != nil {
		if ferr := f.syncLog.Fail(ctx, record.ID, err.Error()); ferr != nil {
			return ferr
		}
		return err
	}

	if err := f.syncLog.Complete(ctx, record.ID, found, changed); err != nil {
		return err
	}

	f.log.Info("synced city",
		slog.String("banana", banana),
		slog.String("vendor", city.Vendor),
		slog.Int("found", found),
		slog.Int("changed", changed),
	)
	return nil
}

// vendorToken decrypts the city's stored API credential. A missing key or a
// broken ciphertext degrades to an unauthenticated adapter rather than
// blocking the sync.
func (f *Fetcher) vendorToken(city *cities.City) string {
	if city.VendorToken == nil || *city.VendorToken == "" {
		return ""
	}
	if f.crypt == nil || !f.crypt.IsConfigured() {
		f.log.Warn("city has a vendor token but no encryption key is configured",
			slog.String("banana", city.Banana))
		return ""
	}

	token, err := f.crypt.Decrypt(*city.VendorToken)
	if err != nil {
		f.log.Warn("failed to decrypt vendor token",
			slog.String("banana", city.Banana),
			logger.Error(err))
		return ""
	}
	return token
}

func (f *Fetcher) run(ctx context.Context, city *cities.City, adapter vendors.Adapter) (found, changed int, err error) {
	stored, err := f.meetings.Fingerprints(ctx, city.Banana)
	if err != nil {
		return 0, 0, err
	}

	now := time.Now().UTC()
	for raw, fetchErr := range adapter.FetchMeetings(ctx, f.window) {
		if fetchErr != nil {
			return found, changed, fetchErr
		}
		found++

		meetingID := fmt.Sprintf("%s_%s", city.Banana, raw.VendorMeetingID)
		fp := fingerprint(&raw)
		if stored[meetingID] == fp {
			continue
		}
		changed++

		if err := f.storeMeeting(ctx, city, meetingID, fp, &raw); err != nil {
			return found, changed, err
		}

		priority := queue.MeetingPriority(raw.Date, now)
		if _, err := f.queue.Enqueue(ctx, queue.NewProcessMeetingJob(meetingID, priority)); err != nil {
			return found, changed, err
		}
	}

	return found, changed, nil
}

// storeMeeting writes one meeting, its items, and their matter observations
// in a single transaction so readers never see a half-synced meeting.
func (f *Fetcher) storeMeeting(ctx context.Context, city *cities.City, meetingID, fp string, raw *vendors.RawMeeting) error {
	return database.RunInTx(ctx, f.db, func(ctx context.Context, tx bun.Tx) error {
		txMeetings := meetings.NewRepository(tx, f.log)
		txItems := items.NewRepository(tx, f.log)

		status := raw.Status
		if status == "" {
			status = meetings.StatusScheduled
		}
		err := txMeetings.Store(ctx, &meetings.Meeting{
			ID:                meetingID,
			Banana:            city.Banana,
			Title:             raw.Title,
			Date:              raw.Date,
			AgendaURL:         raw.AgendaURL,
			PacketURL:         raw.PacketURLs,
			Participation:     raw.Participation,
			Status:            status,
			VendorFingerprint: fp,
		})
		if err != nil {
			return err
		}

		if len(raw.Items) == 0 {
			return nil
		}

		ref := matters.MeetingRef{Banana: city.Banana, ID: meetingID, Date: raw.Date}
		rows := make([]*items.AgendaItem, 0, len(raw.Items))
		for i := range raw.Items {
			rawItem := &raw.Items[i]

			obs, err := f.tracker.Observe(ctx, tx, ref, matters.ItemObservation{
				Title:          rawItem.Title,
				MatterFile:     rawItem.MatterFile,
				VendorMatterID: rawItem.VendorMatterID,
				AttachmentURLs: attachmentURLs(rawItem.Attachments),
				VoteOutcome:    rawItem.VoteOutcome,
				VoteTally:      rawItem.VoteTally,
			})
			if err != nil {
				return err
			}

			// IDs come from the batch position, not the vendor sequence:
			// vendor ordering fields can repeat, and two rows sharing an ID
			// would collide inside StoreBatch's single upsert statement.
			row := &items.AgendaItem{
				ID:          fmt.Sprintf("%s_i%d", meetingID, i+1),
				MeetingID:   meetingID,
				Title:       rawItem.Title,
				Sequence:    rawItem.Sequence,
				Attachments: rawItem.Attachments,
				Sponsors:    rawItem.Sponsors,
				MatterFile:  strings.TrimSpace(rawItem.MatterFile),
			}
			if obs.MatterID != "" {
				row.MatterID = &obs.MatterID
			}
			rows = append(rows, row)
		}

		return txItems.StoreBatch(ctx, rows)
	})
}

func attachmentURLs(attachments []items.Attachment) []string {
	urls := make([]string, 0, len(attachments))
	for _, att := range attachments {
		if att.URL != "" {
			urls = append(urls, att.URL)
		}
	}
	return urls
}

// fingerprint condenses the vendor-owned fields of a meeting, items and
// attachments included, so an unchanged record can be skipped without
// writes. Any attachment change flips the fingerprint and triggers
// reprocessing.
func fingerprint(raw *vendors.RawMeeting) string {
	var b strings.Builder
	b.WriteString(raw.Title)
	b.WriteByte('|')
	if raw.Date != nil {
		b.WriteString(raw.Date.UTC().Format(time.RFC3339))
	}
	b.WriteByte('|')
	b.WriteString(raw.AgendaURL)
	b.WriteByte('|')
	b.WriteString(strings.Join(raw.PacketURLs, ","))
	b.WriteByte('|')
	b.WriteString(raw.Status)
	for i := range raw.Items {
		item := &raw.Items[i]
		b.WriteByte('\n')
		b.WriteString(item.Title)
		b.WriteByte('|')
		b.WriteString(item.MatterFile)
		b.WriteByte('|')
		b.WriteString(strings.Join(attachmentURLs(item.Attachments), ","))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}
