package processing

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engagic/engagic/domain/cities"
	"github.com/engagic/engagic/domain/extract"
	"github.com/engagic/engagic/domain/items"
	"github.com/engagic/engagic/domain/matters"
	"github.com/engagic/engagic/domain/meetings"
	"github.com/engagic/engagic/domain/queue"
	"github.com/engagic/engagic/domain/summarize"
	citysync "github.com/engagic/engagic/domain/sync"
	"github.com/engagic/engagic/domain/vendors"
	"github.com/engagic/engagic/internal/config"
	"github.com/engagic/engagic/internal/testutil"
	"github.com/engagic/engagic/pkg/encryption"
	"github.com/engagic/engagic/pkg/llm"
)

// scriptedLLM answers every completion with a valid summary object whose
// text carries a running call number, so tests can both count model calls
// and tell summaries apart.
type scriptedLLM struct {
	calls atomic.Int64
	fail  atomic.Bool
}

func (c *scriptedLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	n := c.calls.Add(1)
	if c.fail.Load() {
		return nil, fmt.Errorf("model unavailable")
	}
	text := fmt.Sprintf(`{"summary": "Scripted summary %d", "topics": ["housing"], "confidence": "high"}`, n)
	return &llm.Response{Text: text, Model: req.Model}, nil
}

// scriptedAdapter yields a fixed set of meetings regardless of the window.
type scriptedAdapter struct {
	meetings []vendors.RawMeeting
}

func (a *scriptedAdapter) Vendor() string             { return "scripted" }
func (a *scriptedAdapter) Metadata() vendors.Metadata { return vendors.Metadata{SupportsItems: true} }

func (a *scriptedAdapter) FetchMeetings(_ context.Context, _ vendors.FetchWindow) iter.Seq2[vendors.RawMeeting, error] {
	return func(yield func(vendors.RawMeeting, error) bool) {
		for _, m := range a.meetings {
			if !yield(m, nil) {
				return
			}
		}
	}
}

// pipelineEnv wires a fetcher and a processor against the test database,
// with a scripted vendor, a scripted model, and an httptest attachment host.
type pipelineEnv struct {
	cities    *cities.Repository
	meetings  *meetings.Repository
	items     *items.Repository
	matters   *matters.Repository
	queue     *queue.Repository
	fetcher   *citysync.Fetcher
	processor *Processor
	llm       *scriptedLLM
	adapters  map[string]*scriptedAdapter
	docs      *httptest.Server
}

// docPage wraps text in enough HTML to pass the extraction quality gates.
func docPage(text string) string {
	return "<html><body><main><h1>Agenda Packet</h1><p>" + text + "</p></main></body></html>"
}

var longText = "The council will consider an ordinance amending the zoning code " +
	"to permit accessory dwelling units in all residential districts, including " +
	"revised parking requirements, owner occupancy rules, design standards for " +
	"detached structures, and a streamlined ministerial permit pathway intended " +
	"to reduce approval times for qualifying applications across the city."

func newPipelineEnv(t *testing.T, docs map[string]string) *pipelineEnv {
	t.Helper()

	db := testutil.SetupTestDB(t)
	log := testutil.Logger()

	mux := http.NewServeMux()
	for path, text := range docs {
		body := docPage(text)
		mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(body))
		})
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	cfg := &config.Config{
		LLM: config.LLMConfig{
			Provider:                 "anthropic",
			APIKey:                   "scripted",
			SmallModel:               "small",
			LargeModel:               "large",
			LargeModelThresholdChars: 200000,
			MaxOutputTokens:          1024,
			TimeoutSeconds:           5,
		},
		Vendors: config.VendorsConfig{
			MinDelayMs:         1,
			HTTPTimeoutSeconds: 5,
			MaxDownloadMB:      10,
			DaysBack:           7,
			DaysForward:        30,
		},
	}

	client := vendors.NewClient(cfg, log)
	registry := vendors.NewRegistry(client, log)
	adapters := make(map[string]*scriptedAdapter)
	registry.Register("scripted", func(city vendors.CityRef, _ vendors.Deps) vendors.Adapter {
		if a, ok := adapters[city.Banana]; ok {
			return a
		}
		a := &scriptedAdapter{}
		adapters[city.Banana] = a
		return a
	})

	crypt, err := encryption.NewService("", log)
	require.NoError(t, err)

	citiesRepo := cities.NewRepository(db, log)
	meetingsRepo := meetings.NewRepository(db, log)
	itemsRepo := items.NewRepository(db, log)
	mattersRepo := matters.NewRepository(db, log)
	queueRepo := queue.NewRepository(db, log)
	tracker := matters.NewTracker(log)

	fetcher := citysync.NewFetcher(citysync.FetcherParams{
		DB:       db,
		Cities:   citiesRepo,
		Meetings: meetingsRepo,
		Queue:    queueRepo,
		SyncLog:  citysync.NewRepository(db, log),
		Registry: registry,
		Tracker:  tracker,
		Crypt:    crypt,
		Config:   cfg,
		Log:      log,
	})

	model := &scriptedLLM{}
	processor := NewProcessor(Params{
		DB:         db,
		Meetings:   meetingsRepo,
		Items:      itemsRepo,
		Matters:    mattersRepo,
		Cities:     citiesRepo,
		Cache:      NewCacheRepository(db, log),
		Tracker:    tracker,
		Extractor:  extract.NewExtractor(extract.Params{Client: client, Log: log}),
		Summarizer: summarize.NewService(model, cfg, log),
		Log:        log,
	})

	return &pipelineEnv{
		cities:    citiesRepo,
		meetings:  meetingsRepo,
		items:     itemsRepo,
		matters:   mattersRepo,
		queue:     queueRepo,
		fetcher:   fetcher,
		processor: processor,
		llm:       model,
		adapters:  adapters,
		docs:      server,
	}
}

func (env *pipelineEnv) seedCity(t *testing.T, banana, name, state string) {
	t.Helper()
	err := env.cities.Add(context.Background(), &cities.City{
		Banana: banana,
		Name:   name,
		State:  state,
		Vendor: "scripted",
		Slug:   banana,
		Status: cities.StatusActive,
	})
	require.NoError(t, err)
}

// scriptMeetings sets what the city's adapter will yield on the next sync.
func (env *pipelineEnv) scriptMeetings(banana string, raw ...vendors.RawMeeting) {
	a, ok := env.adapters[banana]
	if !ok {
		a = &scriptedAdapter{}
		env.adapters[banana] = a
	}
	a.meetings = raw
}

// drain claims and runs jobs until the queue is empty, dispatching sync jobs
// to the fetcher and the rest to the processor, the way the worker pools do.
func (env *pipelineEnv) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for {
		job, err := env.queue.NextJob(ctx, queue.KindSyncCity, queue.KindProcessMeeting, queue.KindProcessItem)
		require.NoError(t, err)
		if job == nil {
			return
		}
		if job.Kind == queue.KindSyncCity {
			err = env.fetcher.Process(ctx, job)
		} else {
			err = env.processor.Process(ctx, job)
		}
		require.NoError(t, err)
		require.NoError(t, env.queue.MarkComplete(ctx, job.ID))
	}
}

func rawReading(id, title string, date time.Time, attachments ...items.Attachment) vendors.RawMeeting {
	d := date
	return vendors.RawMeeting{
		VendorMeetingID: id,
		Title:           "Metropolitan Council",
		Date:            &d,
		AgendaURL:       "https://example.org/agenda/" + id,
		Items: []vendors.RawAgendaItem{{
			Title:       title,
			Sequence:    1,
			MatterFile:  "BL2025-1098",
			Attachments: attachments,
		}},
	}
}

func TestPipelineSecondReadingReusesCanonicalSummary(t *testing.T) {
	env := newPipelineEnv(t, map[string]string{"/bl1098.html": longText})
	ctx := context.Background()
	env.seedCity(t, "nashvilleTN", "Nashville", "TN")

	attA := items.Attachment{Name: "Ordinance BL2025-1098", URL: env.docs.URL + "/bl1098.html", Type: "pdf"}
	env.scriptMeetings("nashvilleTN",
		rawReading("m1", "FIRST READING: BL2025-1098", time.Date(2025, 5, 1, 18, 0, 0, 0, time.UTC), attA),
		rawReading("m2", "SECOND READING: BL2025-1098", time.Date(2025, 5, 15, 18, 0, 0, 0, time.UTC), attA),
	)

	_, err := env.queue.Enqueue(ctx, queue.NewSyncCityJob("nashvilleTN"))
	require.NoError(t, err)
	env.drain(t)

	matterList, err := env.matters.ListForCity(ctx, "nashvilleTN", matters.ListParams{})
	require.NoError(t, err)
	require.Len(t, matterList, 1)
	assert.Equal(t, 2, matterList[0].AppearanceCount)
	require.True(t, matterList[0].HasCanonical())

	assert.EqualValues(t, 1, env.llm.calls.Load(), "one summarisation must serve both readings")

	first, err := env.items.ListForMeeting(ctx, "nashvilleTN_m1")
	require.NoError(t, err)
	second, err := env.items.ListForMeeting(ctx, "nashvilleTN_m2")
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	require.NotNil(t, first[0].Summary)
	require.NotNil(t, second[0].Summary)
	assert.Equal(t, *first[0].Summary, *second[0].Summary)
	assert.Equal(t, *matterList[0].CanonicalSummary, *second[0].Summary)
}

func TestPipelineAttachmentChangeTriggersReprocessing(t *testing.T) {
	env := newPipelineEnv(t, map[string]string{
		"/bl1098.html":    longText,
		"/bl1098-v2.html": longText + " The substitute adds a sunset clause and annual reporting requirements.",
	})
	ctx := context.Background()
	env.seedCity(t, "nashvilleTN", "Nashville", "TN")

	attA := items.Attachment{Name: "Ordinance", URL: env.docs.URL + "/bl1098.html", Type: "pdf"}
	attB := items.Attachment{Name: "Substitute Ordinance", URL: env.docs.URL + "/bl1098-v2.html", Type: "pdf"}

	// First reading on its own so its summary lands before the substitute
	// attachment shows up.
	env.scriptMeetings("nashvilleTN",
		rawReading("m1", "FIRST READING: BL2025-1098", time.Date(2025, 5, 1, 18, 0, 0, 0, time.UTC), attA))
	_, err := env.queue.Enqueue(ctx, queue.NewSyncCityJob("nashvilleTN"))
	require.NoError(t, err)
	env.drain(t)

	env.scriptMeetings("nashvilleTN",
		rawReading("m1", "FIRST READING: BL2025-1098", time.Date(2025, 5, 1, 18, 0, 0, 0, time.UTC), attA),
		rawReading("m2", "SECOND READING: BL2025-1098", time.Date(2025, 5, 15, 18, 0, 0, 0, time.UTC), attB))
	_, err = env.queue.Enqueue(ctx, queue.NewSyncCityJob("nashvilleTN"))
	require.NoError(t, err)
	env.drain(t)

	assert.EqualValues(t, 2, env.llm.calls.Load(), "changed attachments must be resummarised")

	matterList, err := env.matters.ListForCity(ctx, "nashvilleTN", matters.ListParams{})
	require.NoError(t, err)
	require.Len(t, matterList, 1)
	matter, err := env.matters.Get(ctx, matterList[0].ID)
	require.NoError(t, err)
	assert.Equal(t, matters.AttachmentHash([]string{attB.URL}), matter.AttachmentHash)

	first, err := env.items.ListForMeeting(ctx, "nashvilleTN_m1")
	require.NoError(t, err)
	second, err := env.items.ListForMeeting(ctx, "nashvilleTN_m2")
	require.NoError(t, err)
	require.NotNil(t, first[0].Summary)
	require.NotNil(t, second[0].Summary)
	assert.NotEqual(t, *first[0].Summary, *second[0].Summary, "first reading keeps its original summary")
	assert.Equal(t, *second[0].Summary, *matter.CanonicalSummary, "canonical follows the latest attachments")
}

func TestPipelineCrossCityMattersStayIsolated(t *testing.T) {
	env := newPipelineEnv(t, map[string]string{
		"/nashville.html": longText,
		"/memphis.html": "The commission will hear a resolution accepting a state grant " +
			"for riverfront park improvements, authorizing the mayor to execute all related " +
			"agreements, amending the capital budget accordingly, and directing staff to " +
			"report quarterly on construction progress and expenditures under the grant.",
	})
	ctx := context.Background()
	env.seedCity(t, "nashvilleTN", "Nashville", "TN")
	env.seedCity(t, "memphisTN", "Memphis", "TN")

	script := func(banana, doc string) {
		env.scriptMeetings(banana, vendors.RawMeeting{
			VendorMeetingID: "m1",
			Title:           "City Council",
			AgendaURL:       "https://example.org/" + banana,
			Items: []vendors.RawAgendaItem{{
				Title:       "Resolution 2025-123",
				Sequence:    1,
				MatterFile:  "2025-123",
				Attachments: []items.Attachment{{Name: "Packet", URL: env.docs.URL + doc}},
			}},
		})
	}
	script("nashvilleTN", "/nashville.html")
	script("memphisTN", "/memphis.html")

	_, err := env.queue.Enqueue(ctx, queue.NewSyncCityJob("nashvilleTN"))
	require.NoError(t, err)
	_, err = env.queue.Enqueue(ctx, queue.NewSyncCityJob("memphisTN"))
	require.NoError(t, err)
	env.drain(t)

	nash, err := env.matters.ListForCity(ctx, "nashvilleTN", matters.ListParams{})
	require.NoError(t, err)
	memphis, err := env.matters.ListForCity(ctx, "memphisTN", matters.ListParams{})
	require.NoError(t, err)
	require.Len(t, nash, 1)
	require.Len(t, memphis, 1)
	assert.NotEqual(t, nash[0].ID, memphis[0].ID, "same matter file in two cities must not collide")

	require.True(t, nash[0].HasCanonical())
	require.True(t, memphis[0].HasCanonical())
	assert.NotEqual(t, *nash[0].CanonicalSummary, *memphis[0].CanonicalSummary)
	assert.EqualValues(t, 2, env.llm.calls.Load())
}

func TestPipelineTiedSequencesStoreDistinctItems(t *testing.T) {
	env := newPipelineEnv(t, map[string]string{"/packet.html": longText})
	ctx := context.Background()
	env.seedCity(t, "nashvilleTN", "Nashville", "TN")

	// Vendor ordering fields may repeat; tied items must still land as
	// separate rows instead of colliding inside the batch upsert.
	att := items.Attachment{Name: "Packet", URL: env.docs.URL + "/packet.html", Type: "pdf"}
	d := time.Date(2025, 6, 3, 18, 0, 0, 0, time.UTC)
	env.scriptMeetings("nashvilleTN", vendors.RawMeeting{
		VendorMeetingID: "m7",
		Title:           "Metropolitan Council",
		Date:            &d,
		AgendaURL:       "https://example.org/agenda/m7",
		Items: []vendors.RawAgendaItem{
			{Title: "Ordinance BL2025-2001", Sequence: 4, MatterFile: "BL2025-2001", Attachments: []items.Attachment{att}},
			{Title: "Ordinance BL2025-2002", Sequence: 4, MatterFile: "BL2025-2002", Attachments: []items.Attachment{att}},
		},
	})

	_, err := env.queue.Enqueue(ctx, queue.NewSyncCityJob("nashvilleTN"))
	require.NoError(t, err)
	env.drain(t)

	stored, err := env.items.ListForMeeting(ctx, "nashvilleTN_m7")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.NotEqual(t, stored[0].ID, stored[1].ID)
	for _, it := range stored {
		assert.Equal(t, 4, it.Sequence)
	}
}

func TestPipelineMonolithicModelFailureCompletesWithoutSummary(t *testing.T) {
	env := newPipelineEnv(t, map[string]string{"/packet.html": longText})
	ctx := context.Background()
	env.seedCity(t, "nashvilleTN", "Nashville", "TN")
	env.llm.fail.Store(true)

	// No items, so the meeting takes the monolithic packet path.
	d := time.Date(2025, 7, 1, 18, 0, 0, 0, time.UTC)
	env.scriptMeetings("nashvilleTN", vendors.RawMeeting{
		VendorMeetingID: "m9",
		Title:           "Metropolitan Council",
		Date:            &d,
		AgendaURL:       env.docs.URL + "/packet.html",
	})

	_, err := env.queue.Enqueue(ctx, queue.NewSyncCityJob("nashvilleTN"))
	require.NoError(t, err)
	env.drain(t)

	m, err := env.meetings.Get(ctx, "nashvilleTN_m9")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Nil(t, m.Summary)
	assert.Equal(t, meetings.ProcessingCompleted, m.ProcessingStatus)
}
