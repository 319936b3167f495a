// Package presence tracks who is inside which territory across ticks. It
// announces each entry once, follows the occupant's path while they stay,
// and edits the announcement with a summary when they leave.
package presence

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/xerrors"

	"cdr.dev/slog/v3"

	"github.com/borderwatch/borderwatch/borderd/channels"
	"github.com/borderwatch/borderwatch/borderd/geo"
	"github.com/borderwatch/borderwatch/borderd/notifications"
	"github.com/borderwatch/borderwatch/borderd/render"
	"github.com/borderwatch/borderwatch/borderd/residency"
	"github.com/borderwatch/borderwatch/borderd/world"
)

// DefaultInterval is the tick period used when none is configured.
const DefaultInterval = 5 * time.Minute

// ChannelSource lists the configured channels. It is read once per tick.
type ChannelSource interface {
	List(ctx context.Context, f channels.Filter) ([]channels.Config, error)
}

// DestinationResolver maps a channel reference to where messages go.
type DestinationResolver interface {
	Resolve(ref string) (notifications.Destination, bool)
}

// ResidencyResolver infers an occupant's home. It reports false when the
// home is unknown.
type ResidencyResolver interface {
	Resolve(ctx context.Context, o world.Occupant) (residency.Residency, bool, error)
}

// SightingRecorder stores where occupants were seen. It is called once per
// completed tick, after residency has been resolved.
type SightingRecorder interface {
	Record(ctx context.Context, snap world.Snapshot) error
}

// Renderer draws the summary image attached on finalize.
type Renderer interface {
	RenderSummary(ctx context.Context, areas []world.Area, journey []geo.Point) ([]byte, error)
}

type Options struct {
	Provider     world.Provider
	Channels     ChannelSource
	Destinations DestinationResolver
	Residency    ResidencyResolver
	Sightings    SightingRecorder
	Sink         notifications.Sink
	Renderer     Renderer

	// Interval is the tick period. Elapsed ticks are converted to a
	// duration with it.
	Interval time.Duration
	MapURL   string
	MapZoom  int
	FaceURL  string

	Clock   quartz.Clock
	Metrics *Metrics
	Logger  slog.Logger
}

// Stats describes one tick.
type Stats struct {
	Channels  int
	Started   []Key
	Continued int
	// Suppressed counts entries skipped because the occupant is a resident.
	Suppressed        int
	Finalized         []Key
	DeliveryFailures  int
	EditFailures      int
	RenderFailures    int
	ResidencyFailures int
	SightingFailures  int
	Elapsed           time.Duration
	// Error is set when the tick was aborted before touching any episode.
	Error error
}

// Engine runs the presence tick. Ticks must never overlap; Start runs them
// strictly one after another.
type Engine struct {
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool

	opts     Options
	log      slog.Logger
	clock    quartz.Clock
	metrics  *Metrics
	episodes *EpisodeStore

	tick  <-chan time.Time
	stats chan<- Stats
}

// New returns an engine that runs on every value received from tick once
// Start is called.
func New(ctx context.Context, opts Options, tick <-chan time.Time) *Engine {
	ctx, cancel := context.WithCancel(ctx)
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	return &Engine{
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		opts:     opts,
		log:      opts.Logger.Named("presence"),
		clock:    opts.Clock,
		metrics:  opts.Metrics,
		episodes: NewEpisodeStore(),
		tick:     tick,
	}
}

// WithStatsChannel will cause the engine to push Stats to ch after every
// tick. This push is blocking, so if ch is not read, the engine will hang.
// This should only be used in tests.
func (e *Engine) WithStatsChannel(ch chan<- Stats) *Engine {
	e.stats = ch
	return e
}

// Start runs a tick for every value on the tick channel. It stops when its
// context is Done, or when the channel is closed.
//
// Start should only be called once.
func (e *Engine) Start() {
	e.started.Store(true)
	go func() {
		defer close(e.done)
		defer e.cancel()

		for {
			select {
			case <-e.ctx.Done():
				return
			case _, ok := <-e.tick:
				if !ok {
					return
				}
				stats := e.RunTick(e.ctx)
				if e.stats != nil {
					select {
					case <-e.ctx.Done():
						return
					case e.stats <- stats:
					}
				}
			}
		}
	}()
}

// Wait will block until the engine is stopped.
func (e *Engine) Wait() {
	if !e.started.Load() {
		return
	}
	<-e.done
}

// Close will stop the engine.
func (e *Engine) Close() {
	e.cancel()
	e.Wait()
}

// Episodes returns copies of the live episodes.
func (e *Engine) Episodes() []Episode {
	return e.episodes.List()
}

// RunTick executes one tick. It must not be called while another tick is
// in progress.
func (e *Engine) RunTick(ctx context.Context) Stats {
	start := e.clock.Now()
	stats := e.runTick(ctx)
	stats.Elapsed = e.clock.Since(start)

	e.metrics.TickDuration.Observe(stats.Elapsed.Seconds())
	e.metrics.ActiveEpisodes.Set(float64(e.episodes.Len()))
	if stats.Error != nil {
		e.metrics.Ticks.WithLabelValues(ResultAborted).Inc()
		e.log.Error(ctx, "presence tick aborted", slog.Error(stats.Error))
		return stats
	}
	e.metrics.Ticks.WithLabelValues(ResultSuccess).Inc()
	e.log.Debug(ctx, "presence tick complete",
		slog.F("channels", stats.Channels),
		slog.F("started", len(stats.Started)),
		slog.F("continued", stats.Continued),
		slog.F("finalized", len(stats.Finalized)),
		slog.F("elapsed", stats.Elapsed),
	)
	return stats
}

type boundChannel struct {
	channels.Config
	dest notifications.Destination
}

func (e *Engine) runTick(ctx context.Context) Stats {
	stats := Stats{
		Started:   []Key{},
		Finalized: []Key{},
	}

	// An empty snapshot caused by an outage must not finalize every
	// episode, so nothing is touched until both loads succeed.
	snap, err := e.opts.Provider.Snapshot(ctx)
	if err != nil {
		stats.Error = xerrors.Errorf("fetch world snapshot: %w", err)
		return stats
	}
	bound, err := e.loadChannels(ctx)
	if err != nil {
		stats.Error = xerrors.Errorf("load channels: %w", err)
		return stats
	}
	stats.Channels = len(bound)

	e.enter(ctx, snap, bound, &stats)
	e.exit(ctx, snap, &stats)
	e.recordSightings(ctx, snap, &stats)
	return stats
}

func (e *Engine) recordSightings(ctx context.Context, snap world.Snapshot, stats *Stats) {
	if e.opts.Sightings == nil {
		return
	}
	if err := e.opts.Sightings.Record(ctx, snap); err != nil {
		stats.SightingFailures++
		e.metrics.Failures.WithLabelValues(StageSightings).Inc()
		e.log.Warn(ctx, "record residency sightings", slog.Error(err))
	}
}

// loadChannels returns the enter channels whose destination resolves.
func (e *Engine) loadChannels(ctx context.Context) ([]boundChannel, error) {
	configs, err := e.opts.Channels.List(ctx, channels.Filter{})
	if err != nil {
		return nil, err
	}
	bound := make([]boundChannel, 0, len(configs))
	for _, c := range configs {
		if c.Kind != channels.KindTerritoryEnter {
			continue
		}
		dest, ok := e.opts.Destinations.Resolve(c.ChannelRef)
		if !ok {
			e.log.Debug(ctx, "channel destination does not resolve", slog.F("channel_ref", c.ChannelRef))
			continue
		}
		bound = append(bound, boundChannel{Config: c, dest: dest})
	}
	return bound, nil
}

type residencyResult struct {
	res   residency.Residency
	known bool
}

// enter starts or continues episodes for occupants of matched territories.
func (e *Engine) enter(ctx context.Context, snap world.Snapshot, bound []boundChannel, stats *Stats) {
	names := make([]string, 0, len(snap.Occupants))
	for name, occupants := range snap.Occupants {
		if len(occupants) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	// A pair is continued or created at most once per tick, even when
	// several channels match its territory.
	handled := make(map[Key]struct{})
	residencies := make(map[string]residencyResult)

	for _, name := range names {
		territory, ok := snap.Territory(name)
		if !ok || territory.Owner == "" {
			continue
		}
		for _, ch := range bound {
			if ch.OwnerFilter != territory.Owner {
				continue
			}
			for _, o := range snap.Occupants[name] {
				key := Key{Territory: name, Occupant: o.Name}
				if _, ok := handled[key]; ok {
					continue
				}
				pos := o.Position.Horizontal()

				if ep, ok := e.episodes.Get(name, o.Name); ok {
					ep.ElapsedTicks++
					ep.Observe(pos)
					e.episodes.Upsert(ep)
					handled[key] = struct{}{}
					stats.Continued++
					continue
				}

				r, ok := residencies[o.Name]
				if !ok {
					r = e.resolveResidency(ctx, snap, o, stats)
					residencies[o.Name] = r
				}
				if ch.IgnoreIfResident && r.known && r.res.Affiliation == territory.Owner {
					stats.Suppressed++
					e.metrics.Suppressed.Inc()
					e.log.Debug(ctx, "skipping resident",
						slog.F("territory", name),
						slog.F("occupant", o.Name),
						slog.F("channel_ref", ch.ChannelRef),
					)
					continue
				}

				ep := Episode{
					ID:           uuid.New(),
					Territory:    name,
					Occupant:     o.Name,
					ElapsedTicks: 1,
					Journey:      []geo.Point{pos},
					StartedAt:    e.clock.Now(),
					Notice:       e.deliver(ctx, ch, territory, o, r, stats),
				}
				e.episodes.Upsert(ep)
				handled[key] = struct{}{}
				stats.Started = append(stats.Started, key)
				e.metrics.StartedEpisodes.Inc()
				e.log.Info(ctx, "occupant entered territory",
					slog.F("territory", name),
					slog.F("owner", territory.Owner),
					slog.F("occupant", o.Name),
					slog.F("episode_id", ep.ID),
					slog.F("notified", ep.Notice != nil),
				)
			}
		}
	}
}

// resolveResidency looks up the occupant's home. The affiliation is taken
// from the home territory's current owner when the snapshot still has it.
func (e *Engine) resolveResidency(ctx context.Context, snap world.Snapshot, o world.Occupant, stats *Stats) residencyResult {
	if e.opts.Residency == nil {
		return residencyResult{}
	}
	res, known, err := e.opts.Residency.Resolve(ctx, o)
	if err != nil {
		stats.ResidencyFailures++
		e.metrics.Failures.WithLabelValues(StageResidency).Inc()
		e.log.Warn(ctx, "resolve residency", slog.F("occupant", o.Name), slog.Error(err))
		return residencyResult{}
	}
	if home, ok := snap.Territory(res.Territory); known && ok {
		res.Affiliation = home.Owner
	}
	return residencyResult{res: res, known: known}
}

// deliver sends the initial notice. A failed delivery yields a nil notice.
func (e *Engine) deliver(ctx context.Context, ch boundChannel, t world.Territory, o world.Occupant, r residencyResult, stats *Stats) *Notice {
	msg := e.noticeMessage(t, o, r.res, r.known)
	h, err := e.opts.Sink.Deliver(ctx, ch.dest, msg)
	if err != nil {
		stats.DeliveryFailures++
		e.metrics.Failures.WithLabelValues(StageDeliver).Inc()
		e.log.Warn(ctx, "deliver entry notice",
			slog.F("territory", t.Name),
			slog.F("occupant", o.Name),
			slog.F("channel_ref", ch.ChannelRef),
			slog.Error(err),
		)
		return nil
	}
	return &Notice{Handle: h, Message: msg}
}

// exit finalizes every episode whose occupant is no longer present.
func (e *Engine) exit(ctx context.Context, snap world.Snapshot, stats *Stats) {
	e.episodes.ForEachTerritory(func(territory string, episodes []Episode) {
		for _, ep := range episodes {
			if snap.Present(territory, ep.Occupant) {
				continue
			}
			e.finalize(ctx, snap, ep, stats)
			e.episodes.RemoveIfExists(territory, ep.Occupant)
			stats.Finalized = append(stats.Finalized, ep.Key())
			e.metrics.FinalizedEpisodes.Inc()
		}
		e.episodes.PruneEmpty(territory)
	})
}

// finalize edits the entry notice with the time spent and a journey
// summary. Render and edit failures are logged and dropped.
func (e *Engine) finalize(ctx context.Context, snap world.Snapshot, ep Episode, stats *Stats) {
	spent := time.Duration(ep.ElapsedTicks) * e.opts.Interval
	log := e.log.With(
		slog.F("territory", ep.Territory),
		slog.F("occupant", ep.Occupant),
		slog.F("episode_id", ep.ID),
	)
	log.Info(ctx, "occupant left territory",
		slog.F("elapsed_ticks", ep.ElapsedTicks),
		slog.F("time_spent", spent),
		slog.F("samples", len(ep.Journey)),
	)
	if ep.Notice == nil {
		return
	}

	msg := ep.Notice.Message.Clone()
	msg.SetFieldValue(TimeSpentField, TimeSpent(spent))
	msg.ImageURL = ""

	var attachments []notifications.Attachment
	if _, ok := snap.Territory(ep.Territory); ok && e.opts.Renderer != nil {
		areas := Classify(snap.Areas(ep.Territory), ep.Journey)
		img, err := e.opts.Renderer.RenderSummary(ctx, areas, ep.Journey)
		if err != nil {
			stats.RenderFailures++
			e.metrics.Failures.WithLabelValues(StageRender).Inc()
			log.Warn(ctx, "render journey summary", slog.Error(err))
		} else {
			attachments = []notifications.Attachment{{
				Name:        SummaryAttachment,
				ContentType: render.ContentType,
				Data:        img,
			}}
			msg.ImageURL = notifications.AttachmentURL(SummaryAttachment)
		}
	}

	if err := e.opts.Sink.Edit(ctx, ep.Notice.Handle, msg, attachments); err != nil {
		stats.EditFailures++
		e.metrics.Failures.WithLabelValues(StageEdit).Inc()
		log.Warn(ctx, "edit entry notice", slog.Error(err))
	}
}
