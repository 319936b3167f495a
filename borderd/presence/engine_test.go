package presence_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/xerrors"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/slogtest"

	"github.com/borderwatch/borderwatch/borderd/channels"
	"github.com/borderwatch/borderwatch/borderd/database/dbmem"
	"github.com/borderwatch/borderwatch/borderd/geo"
	"github.com/borderwatch/borderwatch/borderd/notifications"
	"github.com/borderwatch/borderwatch/borderd/presence"
	"github.com/borderwatch/borderwatch/borderd/residency"
	"github.com/borderwatch/borderwatch/borderd/world"
	"github.com/borderwatch/borderwatch/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const interval = 300 * time.Second

func square(x, z, size float64) geo.Polygon {
	return geo.Polygon{{X: x, Z: z}, {X: x + size, Z: z}, {X: x + size, Z: z + size}, {X: x, Z: z + size}}
}

var oakland = world.Territory{
	Name:  "Oakland",
	Owner: "Redwood",
	Areas: []world.Area{
		{Name: "Oakland", Polygon: square(0, 0, 100)},
		{Name: "Oakland Outpost", Polygon: square(500, 500, 50)},
	},
}

func alice(x, z float64) world.Occupant {
	return world.Occupant{Name: "Alice", Position: geo.Vec3{X: x, Y: 70, Z: z}, Online: true}
}

func snapshot(occupants ...world.Occupant) world.Snapshot {
	return world.NewSnapshot([]world.Territory{oakland}, occupants)
}

type fakeWorld struct {
	mu   sync.Mutex
	snap world.Snapshot
	err  error
}

func (f *fakeWorld) Set(snap world.Snapshot, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap, f.err = snap, err
}

func (f *fakeWorld) Snapshot(context.Context) (world.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, f.err
}

type fakeChannels struct {
	mu      sync.Mutex
	configs []channels.Config
	err     error
}

func (f *fakeChannels) Set(configs []channels.Config, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs, f.err = configs, err
}

func (f *fakeChannels) List(context.Context, channels.Filter) ([]channels.Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]channels.Config(nil), f.configs...), f.err
}

type fakeResidency struct {
	mu    sync.Mutex
	homes map[string]residency.Residency
	err   error
	calls int
}

func (f *fakeResidency) Resolve(_ context.Context, o world.Occupant) (residency.Residency, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return residency.Residency{}, false, f.err
	}
	r, ok := f.homes[o.Name]
	return r, ok, nil
}

func (f *fakeResidency) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type renderCall struct {
	Areas   []world.Area
	Journey []geo.Point
}

type fakeRenderer struct {
	mu    sync.Mutex
	calls []renderCall
	err   error
}

func (f *fakeRenderer) RenderSummary(_ context.Context, areas []world.Area, journey []geo.Point) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, renderCall{Areas: areas, Journey: append([]geo.Point(nil), journey...)})
	if f.err != nil {
		return nil, f.err
	}
	return []byte("png"), nil
}

func (f *fakeRenderer) Calls() []renderCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]renderCall(nil), f.calls...)
}

type harness struct {
	engine    *presence.Engine
	world     *fakeWorld
	channels  *fakeChannels
	residency *fakeResidency
	renderer  *fakeRenderer
	sink      *testutil.FakeSink
	registry  *prometheus.Registry
}

func enterChannel(ref string, ignoreIfResident bool) channels.Config {
	return channels.Config{
		Kind:             channels.KindTerritoryEnter,
		ChannelRef:       ref,
		OwnerFilter:      "Redwood",
		IgnoreIfResident: ignoreIfResident,
	}
}

func newHarness(t *testing.T, logger slog.Logger, configs ...channels.Config) *harness {
	t.Helper()
	if len(configs) == 0 {
		configs = []channels.Config{enterChannel("alerts", false)}
	}
	dests, err := notifications.ParseDestinations([]byte(`
destinations:
  alerts:
    webhook_url: https://hooks.example/alerts
  backup:
    webhook_url: https://hooks.example/backup
`))
	require.NoError(t, err)

	h := &harness{
		world:     &fakeWorld{},
		channels:  &fakeChannels{configs: configs},
		residency: &fakeResidency{homes: map[string]residency.Residency{}},
		renderer:  &fakeRenderer{},
		sink:      &testutil.FakeSink{},
		registry:  prometheus.NewRegistry(),
	}
	h.engine = presence.New(testutil.Context(t, testutil.WaitLong), presence.Options{
		Provider:     h.world,
		Channels:     h.channels,
		Destinations: dests,
		Residency:    h.residency,
		Sink:         h.sink,
		Renderer:     h.renderer,
		Interval:     interval,
		MapURL:       "https://map.example",
		MapZoom:      5,
		FaceURL:      "https://faces.example/",
		Clock:        quartz.NewMock(t),
		Metrics:      presence.NewMetrics(h.registry),
		Logger:       logger,
	}, nil)
	t.Cleanup(h.engine.Close)
	return h
}

func (h *harness) tick(t *testing.T, snap world.Snapshot) presence.Stats {
	t.Helper()
	h.world.Set(snap, nil)
	stats := h.engine.RunTick(testutil.Context(t, testutil.WaitShort))
	require.NoError(t, stats.Error)
	return stats
}

func key(territory, occupant string) presence.Key {
	return presence.Key{Territory: territory, Occupant: occupant}
}

func TestScenarioEnterStayLeave(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testutil.Logger(t))

	stats := h.tick(t, snapshot(alice(10, 20)))
	require.Equal(t, []presence.Key{key("Oakland", "Alice")}, stats.Started)
	require.Len(t, h.sink.Deliveries(), 1)

	sent := h.sink.Deliveries()[0]
	require.Equal(t, "alerts", sent.Destination.Ref)
	require.Equal(t, presence.NoticeTitle, sent.Message.Title)
	require.Equal(t, "https://faces.example/Alice", sent.Message.ThumbnailURL)
	fields := sent.Message.Fields
	require.Len(t, fields, 5)
	assert.Equal(t, "Alice", fields[0].Value)
	assert.Equal(t, "[10, 70, 20](https://map.example?x=10&z=20&zoom=5)", fields[1].Value)
	assert.Equal(t, "Oakland", fields[2].Value)
	assert.Equal(t, "Unknown", fields[3].Value)
	assert.Equal(t, presence.TimeSpentPlaceholder, fields[presence.TimeSpentField].Value)

	stats = h.tick(t, snapshot(alice(10, 20)))
	require.Equal(t, 1, stats.Continued)
	require.Empty(t, stats.Started)
	require.Len(t, h.sink.Deliveries(), 1)

	episodes := h.engine.Episodes()
	require.Len(t, episodes, 1)
	require.Equal(t, 2, episodes[0].ElapsedTicks)
	require.NotNil(t, episodes[0].Notice)

	stats = h.tick(t, snapshot())
	require.Equal(t, []presence.Key{key("Oakland", "Alice")}, stats.Finalized)
	require.Empty(t, h.engine.Episodes())

	edits := h.sink.Edits()
	require.Len(t, edits, 1)
	require.Equal(t, sent.Handle, edits[0].Handle)
	require.Equal(t, "In territory for 10 minutes", edits[0].Message.Fields[presence.TimeSpentField].Value)
	require.Equal(t, "attachment://journey.png", edits[0].Message.ImageURL)
	// Everything but the time spent and the image is carried over.
	want := sent.Message.Clone()
	want.SetFieldValue(presence.TimeSpentField, "In territory for 10 minutes")
	want.ImageURL = "attachment://journey.png"
	if diff := cmp.Diff(want, edits[0].Message); diff != "" {
		t.Fatalf("unexpected edit (-want +got):\n%s", diff)
	}
	require.Len(t, edits[0].Attachments, 1)
	require.Equal(t, presence.SummaryAttachment, edits[0].Attachments[0].Name)
	require.Equal(t, []byte("png"), edits[0].Attachments[0].Data)

	// Only the area the journey touched is rendered.
	renders := h.renderer.Calls()
	require.Len(t, renders, 1)
	require.Len(t, renders[0].Areas, 1)
	require.Equal(t, "Oakland", renders[0].Areas[0].Name)
	require.Equal(t, []geo.Point{{X: 10, Z: 20}}, renders[0].Journey)

	metrics, err := h.registry.Gather()
	require.NoError(t, err)
	require.True(t, testutil.PromCounterHasValue(t, metrics, 1, "borderwatch_presence_episodes_started_total"))
	require.True(t, testutil.PromCounterHasValue(t, metrics, 1, "borderwatch_presence_episodes_finalized_total"))
	require.True(t, testutil.PromCounterHasValue(t, metrics, 3, "borderwatch_presence_ticks_total", presence.ResultSuccess))
	require.True(t, testutil.PromGaugeHasValue(t, metrics, 0, "borderwatch_presence_active_episodes"))
}

func TestScenarioResidentSuppressed(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testutil.Logger(t), enterChannel("alerts", true))
	h.residency.homes["Alice"] = residency.Residency{Territory: "Pinecrest", Affiliation: "Redwood"}

	for i := 0; i < 5; i++ {
		stats := h.tick(t, snapshot(alice(10, 20)))
		require.Equal(t, 1, stats.Suppressed)
		require.Empty(t, stats.Started)
	}
	require.Empty(t, h.sink.Deliveries())
	require.Empty(t, h.engine.Episodes())
	// Residency is checked again on every tick.
	require.Equal(t, 5, h.residency.Calls())
}

func TestScenarioJourney(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testutil.Logger(t))

	for i := 0; i < 3; i++ {
		h.tick(t, snapshot(alice(10, 20)))
		require.Len(t, h.engine.Episodes()[0].Journey, 1)
	}
	h.tick(t, snapshot(alice(15, 20)))

	ep := h.engine.Episodes()[0]
	require.Equal(t, []geo.Point{{X: 10, Z: 20}, {X: 15, Z: 20}}, ep.Journey)
	require.Equal(t, 4, ep.ElapsedTicks)

	h.tick(t, snapshot())
	renders := h.renderer.Calls()
	require.Len(t, renders, 1)
	require.Equal(t, []geo.Point{{X: 10, Z: 20}, {X: 15, Z: 20}}, renders[0].Journey)
	require.Equal(t, "In territory for 20 minutes", h.sink.Edits()[0].Message.Fields[presence.TimeSpentField].Value)
}

func TestScenarioDeliveryFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testutil.Logger(t))
	h.sink.DeliverErr = xerrors.New("webhook unavailable")

	stats := h.tick(t, snapshot(alice(10, 20)))
	require.Equal(t, 1, stats.DeliveryFailures)
	require.Len(t, stats.Started, 1)

	episodes := h.engine.Episodes()
	require.Len(t, episodes, 1)
	require.Nil(t, episodes[0].Notice)
	require.Equal(t, 1, episodes[0].ElapsedTicks)

	stats = h.tick(t, snapshot())
	require.Len(t, stats.Finalized, 1)
	require.Empty(t, h.sink.Edits())
	require.Empty(t, h.renderer.Calls())
	require.Empty(t, h.engine.Episodes())
}

func TestDwellAccounting(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testutil.Logger(t))

	const k = 7
	for i := 0; i < k; i++ {
		// Moving every tick does not change the count.
		h.tick(t, snapshot(alice(float64(10+i), 20)))
	}
	require.Equal(t, k, h.engine.Episodes()[0].ElapsedTicks)
	require.Len(t, h.engine.Episodes()[0].Journey, k)

	h.tick(t, snapshot())
	require.Equal(t, presence.TimeSpent(k*interval), h.sink.Edits()[0].Message.Fields[presence.TimeSpentField].Value)
}

func TestAtMostOneEpisode(t *testing.T) {
	t.Parallel()

	t.Run("TwoChannelsSameTick", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, testutil.Logger(t), enterChannel("alerts", false), enterChannel("backup", false))

		stats := h.tick(t, snapshot(alice(10, 20)))
		require.Len(t, stats.Started, 1)
		require.Len(t, h.sink.Deliveries(), 1)
		require.Len(t, h.engine.Episodes(), 1)
		require.Equal(t, 1, h.engine.Episodes()[0].ElapsedTicks)

		stats = h.tick(t, snapshot(alice(10, 20)))
		require.Equal(t, 1, stats.Continued)
		require.Equal(t, 2, h.engine.Episodes()[0].ElapsedTicks)
	})

	t.Run("SecondChannelCreatesWhenFirstSuppresses", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, testutil.Logger(t), enterChannel("alerts", true), enterChannel("backup", false))
		h.residency.homes["Alice"] = residency.Residency{Territory: "Pinecrest", Affiliation: "Redwood"}

		stats := h.tick(t, snapshot(alice(10, 20)))
		require.Equal(t, 1, stats.Suppressed)
		require.Len(t, stats.Started, 1)
		deliveries := h.sink.Deliveries()
		require.Len(t, deliveries, 1)
		require.Equal(t, "backup", deliveries[0].Destination.Ref)
		require.Equal(t, "Pinecrest (Redwood)", deliveries[0].Message.Fields[3].Value)
		// One resolution per occupant per tick.
		require.Equal(t, 1, h.residency.Calls())
	})
}

func TestResidentOfOtherAffiliationNotified(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testutil.Logger(t), enterChannel("alerts", true))
	h.residency.homes["Alice"] = residency.Residency{Territory: "Ashford", Affiliation: "Cedar"}

	stats := h.tick(t, snapshot(alice(10, 20)))
	require.Len(t, stats.Started, 1)
	require.Equal(t, "Ashford (Cedar)", h.sink.Deliveries()[0].Message.Fields[3].Value)
}

func TestResidencyFailureTreatedAsUnknown(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testutil.Logger(t), enterChannel("alerts", true))
	h.residency.err = xerrors.New("db locked")

	stats := h.tick(t, snapshot(alice(10, 20)))
	require.Equal(t, 1, stats.ResidencyFailures)
	require.Len(t, stats.Started, 1)
	require.Equal(t, "Unknown", h.sink.Deliveries()[0].Message.Fields[3].Value)
}

func TestFinalizeOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testutil.Logger(t))

	h.tick(t, snapshot(alice(10, 20)))
	first := h.engine.Episodes()[0].ID
	h.tick(t, snapshot())
	for i := 0; i < 3; i++ {
		stats := h.tick(t, snapshot())
		require.Empty(t, stats.Finalized)
	}
	require.Len(t, h.sink.Edits(), 1)

	// Coming back is a new stay.
	stats := h.tick(t, snapshot(alice(10, 20)))
	require.Len(t, stats.Started, 1)
	require.NotEqual(t, first, h.engine.Episodes()[0].ID)
	require.Len(t, h.sink.Deliveries(), 2)
}

func TestRenderFailureDropsImage(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testutil.Logger(t))
	h.renderer.err = xerrors.New("raster exploded")

	h.tick(t, snapshot(alice(10, 20)))
	stats := h.tick(t, snapshot())
	require.Equal(t, 1, stats.RenderFailures)
	require.Len(t, stats.Finalized, 1)
	require.Empty(t, h.engine.Episodes())

	edits := h.sink.Edits()
	require.Len(t, edits, 1)
	require.Empty(t, edits[0].Attachments)
	require.Empty(t, edits[0].Message.ImageURL)
	require.Equal(t, "In territory for 5 minutes", edits[0].Message.Fields[presence.TimeSpentField].Value)

	// Nothing is retried later.
	h.tick(t, snapshot())
	require.Len(t, h.renderer.Calls(), 1)
}

func TestEditFailureStillRemoves(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testutil.Logger(t))
	h.sink.EditErr = xerrors.New("message deleted")

	h.tick(t, snapshot(alice(10, 20)))
	stats := h.tick(t, snapshot())
	require.Equal(t, 1, stats.EditFailures)
	require.Len(t, stats.Finalized, 1)
	require.Empty(t, h.engine.Episodes())

	h.tick(t, snapshot())
	require.Len(t, h.sink.Edits(), 1)

	metrics, err := h.registry.Gather()
	require.NoError(t, err)
	require.True(t, testutil.PromCounterHasValue(t, metrics, 1, "borderwatch_presence_failures_total", presence.StageEdit))
}

func TestTerritoryGone(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testutil.Logger(t))

	h.tick(t, snapshot(alice(10, 20)))
	stats := h.tick(t, world.NewSnapshot(nil, nil))
	require.Len(t, stats.Finalized, 1)

	edits := h.sink.Edits()
	require.Len(t, edits, 1)
	require.Empty(t, edits[0].Attachments)
	require.Empty(t, h.renderer.Calls())
}

func TestAbortedTickTouchesNothing(t *testing.T) {
	t.Parallel()

	t.Run("SnapshotFailure", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}))
		h.tick(t, snapshot(alice(10, 20)))

		h.world.Set(world.Snapshot{}, xerrors.New("upstream 502"))
		stats := h.engine.RunTick(testutil.Context(t, testutil.WaitShort))
		require.Error(t, stats.Error)
		require.Empty(t, stats.Finalized)

		episodes := h.engine.Episodes()
		require.Len(t, episodes, 1)
		require.Equal(t, 1, episodes[0].ElapsedTicks)
		require.Empty(t, h.sink.Edits())

		metrics, err := h.registry.Gather()
		require.NoError(t, err)
		require.True(t, testutil.PromCounterHasValue(t, metrics, 1, "borderwatch_presence_ticks_total", presence.ResultAborted))
	})

	t.Run("ChannelFailure", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}))
		h.tick(t, snapshot(alice(10, 20)))

		h.channels.Set(nil, xerrors.New("database is locked"))
		h.world.Set(snapshot(), nil)
		stats := h.engine.RunTick(testutil.Context(t, testutil.WaitShort))
		require.Error(t, stats.Error)
		require.Len(t, h.engine.Episodes(), 1)
		require.Empty(t, h.sink.Edits())
	})
}

func TestChannelRemovedMidEpisode(t *testing.T) {
	t.Parallel()

	ctx := testutil.Context(t, testutil.WaitShort)
	reg := channels.New(dbmem.New(), quartz.NewMock(t))
	// Literal webhook refs resolve without a destinations file.
	require.NoError(t, reg.Add(ctx, enterChannel("https://hooks.example/direct", false)))

	h := newHarness(t, testutil.Logger(t))
	h.engine = presence.New(testutil.Context(t, testutil.WaitLong), presence.Options{
		Provider:     h.world,
		Channels:     reg,
		Destinations: &notifications.Destinations{},
		Sink:         h.sink,
		Renderer:     h.renderer,
		Interval:     interval,
		Logger:       testutil.Logger(t),
	}, nil)
	t.Cleanup(h.engine.Close)

	h.tick(t, snapshot(alice(10, 20)))
	require.Len(t, h.engine.Episodes(), 1)

	_, err := reg.Delete(ctx, channels.Filter{ChannelRef: "https://hooks.example/direct"})
	require.NoError(t, err)

	// The episode is kept but no longer advanced.
	stats := h.tick(t, snapshot(alice(30, 20)))
	require.Equal(t, 0, stats.Channels)
	ep := h.engine.Episodes()[0]
	require.Equal(t, 1, ep.ElapsedTicks)
	require.Len(t, ep.Journey, 1)

	h.tick(t, snapshot())
	require.Empty(t, h.engine.Episodes())
	require.Len(t, h.sink.Edits(), 1)
}

func TestUnmatchedTerritories(t *testing.T) {
	t.Parallel()

	t.Run("UnresolvedDestination", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, testutil.Logger(t), enterChannel("nowhere", false))
		stats := h.tick(t, snapshot(alice(10, 20)))
		require.Equal(t, 0, stats.Channels)
		require.Empty(t, h.sink.Deliveries())
		require.Empty(t, h.engine.Episodes())
	})

	t.Run("OtherOwner", func(t *testing.T) {
		t.Parallel()
		cfg := enterChannel("alerts", false)
		cfg.OwnerFilter = "Cedar"
		h := newHarness(t, testutil.Logger(t), cfg)
		h.tick(t, snapshot(alice(10, 20)))
		require.Empty(t, h.engine.Episodes())
	})

	t.Run("UnownedTerritory", func(t *testing.T) {
		t.Parallel()
		cfg := enterChannel("alerts", false)
		cfg.OwnerFilter = ""
		h := newHarness(t, testutil.Logger(t), cfg)
		wild := world.Territory{Name: "Wilds", Areas: []world.Area{{Name: "Wilds", Polygon: square(0, 0, 100)}}}
		h.tick(t, world.NewSnapshot([]world.Territory{wild}, []world.Occupant{alice(10, 20)}))
		require.Empty(t, h.engine.Episodes())
	})

	t.Run("OtherKind", func(t *testing.T) {
		t.Parallel()
		cfg := enterChannel("alerts", false)
		cfg.Kind = "territory_leave"
		h := newHarness(t, testutil.Logger(t), cfg)
		stats := h.tick(t, snapshot(alice(10, 20)))
		require.Equal(t, 0, stats.Channels)
		require.Empty(t, h.engine.Episodes())
	})
}

func TestEngineStart(t *testing.T) {
	t.Parallel()

	ctx := testutil.Context(t, testutil.WaitShort)
	h := newHarness(t, testutil.Logger(t))
	h.world.Set(snapshot(alice(10, 20)), nil)

	tickCh := make(chan time.Time)
	statsCh := make(chan presence.Stats)
	engine := presence.New(ctx, presence.Options{
		Provider:     h.world,
		Channels:     h.channels,
		Destinations: &notifications.Destinations{},
		Sink:         h.sink,
		Renderer:     h.renderer,
		Interval:     interval,
		Logger:       testutil.Logger(t),
	}, tickCh).WithStatsChannel(statsCh)
	engine.Start()

	// "alerts" is not a URL and there is no destinations file here.
	testutil.RequireSend(ctx, t, tickCh, time.Now())
	stats := testutil.RequireReceive(ctx, t, statsCh)
	require.NoError(t, stats.Error)
	require.Equal(t, 0, stats.Channels)

	h.channels.Set([]channels.Config{enterChannel("https://hooks.example/a", false)}, nil)
	testutil.RequireSend(ctx, t, tickCh, time.Now())
	stats = testutil.RequireReceive(ctx, t, statsCh)
	require.Len(t, stats.Started, 1)
	require.Len(t, engine.Episodes(), 1)

	engine.Close()
	engine.Wait()
}

type failingSightings struct{}

func (failingSightings) Record(context.Context, world.Snapshot) error {
	return xerrors.New("disk full")
}

func TestSightingsRecordedAfterEntry(t *testing.T) {
	t.Parallel()

	db := dbmem.New()
	clock := quartz.NewMock(t)
	h := newHarness(t, testutil.Logger(t))
	h.channels.Set([]channels.Config{enterChannel("https://hooks.example/direct", true)}, nil)
	h.engine = presence.New(testutil.Context(t, testutil.WaitLong), presence.Options{
		Provider:     h.world,
		Channels:     h.channels,
		Destinations: &notifications.Destinations{},
		Residency:    residency.NewInferrer(db, 1),
		Sightings:    residency.NewRecorder(db, testutil.Logger(t), clock),
		Sink:         h.sink,
		Renderer:     h.renderer,
		Interval:     interval,
		Clock:        clock,
		Logger:       testutil.Logger(t),
	}, nil)
	t.Cleanup(h.engine.Close)

	// Never seen before: the territory being entered is not yet a home.
	stats := h.tick(t, snapshot(alice(10, 20)))
	require.Zero(t, stats.Suppressed)
	require.Len(t, stats.Started, 1)
	require.Equal(t, "Unknown", h.sink.Deliveries()[0].Message.Fields[3].Value)

	h.tick(t, snapshot())
	require.Empty(t, h.engine.Episodes())

	// One recorded sighting meets the minimum, so the next entry is a
	// resident's.
	stats = h.tick(t, snapshot(alice(10, 20)))
	require.Equal(t, 1, stats.Suppressed)
	require.Empty(t, stats.Started)
	require.Len(t, h.sink.Deliveries(), 1)
}

func TestSightingFailureIsLogged(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testutil.Logger(t))
	reg := prometheus.NewRegistry()
	h.engine = presence.New(testutil.Context(t, testutil.WaitLong), presence.Options{
		Provider:     h.world,
		Channels:     &fakeChannels{configs: []channels.Config{enterChannel("https://hooks.example/direct", false)}},
		Destinations: &notifications.Destinations{},
		Sightings:    failingSightings{},
		Sink:         h.sink,
		Interval:     interval,
		Metrics:      presence.NewMetrics(reg),
		Logger:       testutil.Logger(t),
	}, nil)
	t.Cleanup(h.engine.Close)

	stats := h.tick(t, snapshot(alice(10, 20)))
	require.Equal(t, 1, stats.SightingFailures)
	require.Len(t, stats.Started, 1)

	metrics, err := reg.Gather()
	require.NoError(t, err)
	require.True(t, testutil.PromCounterHasValue(t, metrics, 1, "borderwatch_presence_failures_total", presence.StageSightings))
}

func TestResidencyUsesCurrentOwner(t *testing.T) {
	t.Parallel()

	pinecrest := func(owner string) world.Territory {
		return world.Territory{Name: "Pinecrest", Owner: owner, Areas: []world.Area{{Name: "Pinecrest", Polygon: square(1000, 1000, 50)}}}
	}

	t.Run("NowSameAffiliation", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, testutil.Logger(t), enterChannel("alerts", true))
		// Recorded while Cedar held it; Redwood has since taken it.
		h.residency.homes["Alice"] = residency.Residency{Territory: "Pinecrest", Affiliation: "Cedar"}

		stats := h.tick(t, world.NewSnapshot([]world.Territory{oakland, pinecrest("Redwood")}, []world.Occupant{alice(10, 20)}))
		require.Equal(t, 1, stats.Suppressed)
		require.Empty(t, h.sink.Deliveries())
	})

	t.Run("NowOtherAffiliation", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, testutil.Logger(t), enterChannel("alerts", true))
		h.residency.homes["Alice"] = residency.Residency{Territory: "Pinecrest", Affiliation: "Redwood"}

		stats := h.tick(t, world.NewSnapshot([]world.Territory{oakland, pinecrest("Cedar")}, []world.Occupant{alice(10, 20)}))
		require.Zero(t, stats.Suppressed)
		require.Len(t, stats.Started, 1)
		require.Equal(t, "Pinecrest (Cedar)", h.sink.Deliveries()[0].Message.Fields[3].Value)
	})

	t.Run("HomeGone", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, testutil.Logger(t), enterChannel("alerts", true))
		h.residency.homes["Alice"] = residency.Residency{Territory: "Pinecrest", Affiliation: "Redwood"}

		// Without the home in the snapshot the recorded owner is used.
		stats := h.tick(t, snapshot(alice(10, 20)))
		require.Equal(t, 1, stats.Suppressed)
	})
}
