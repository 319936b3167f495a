// Package channels stores which chat channels want which notifications.
package channels

import (
	"context"
	"database/sql"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/xerrors"

	"github.com/borderwatch/borderwatch/borderd/database"
	"github.com/borderwatch/borderwatch/borderd/database/dbtime"
)

// Kind is the notification kind a channel subscribes to.
type Kind string

// KindTerritoryEnter fires when a player enters a territory held by the
// channel's owner filter.
const KindTerritoryEnter Kind = "territory_enter"

// Kinds lists every known notification kind.
func Kinds() []Kind {
	return []Kind{KindTerritoryEnter}
}

func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

var (
	ErrExists   = xerrors.New("channel already exists")
	ErrNotFound = xerrors.New("channel not found")
)

// Config is one channel subscription.
type Config struct {
	Kind       Kind   `json:"notification_type" yaml:"notification_type" validate:"required"`
	ChannelRef string `json:"channel_ref" yaml:"channel_ref" validate:"required"`
	// OwnerFilter is compared to the territory owner. An empty filter
	// never matches an unowned territory.
	OwnerFilter      string `json:"owner_filter" yaml:"owner_filter"`
	IgnoreIfResident bool   `json:"ignore_if_resident" yaml:"ignore_if_resident"`
}

// Validate rejects configs with missing keys or unknown kinds.
func (c Config) Validate() error {
	if c.ChannelRef == "" {
		return xerrors.New("channel_ref is required")
	}
	if !c.Kind.Valid() {
		return xerrors.Errorf("unknown notification type %q", c.Kind)
	}
	return nil
}

// Keys returns the match keys identifying c.
func (c Config) Keys() MatchKeys {
	return MatchKeys{ChannelRef: c.ChannelRef, Kind: c.Kind}
}

// MatchKeys identify exactly one channel.
type MatchKeys struct {
	ChannelRef string
	Kind       Kind
}

// Filter narrows List and Delete. Empty fields match everything.
type Filter struct {
	ChannelRef string
	Kind       Kind
}

// Registry is the CRUD surface over stored channel configs.
type Registry struct {
	db    database.Store
	clock quartz.Clock
}

func New(db database.Store, clock quartz.Clock) *Registry {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Registry{db: db, clock: clock}
}

func (r *Registry) now() time.Time {
	return dbtime.Time(r.clock.Now())
}

func (r *Registry) Add(ctx context.Context, c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := r.db.InsertNotificationChannel(ctx, database.InsertNotificationChannelParams{
		NotificationType: string(c.Kind),
		ChannelRef:       c.ChannelRef,
		OwnerFilter:      c.OwnerFilter,
		IgnoreIfResident: c.IgnoreIfResident,
		CreatedAt:        r.now(),
	})
	if database.IsUniqueViolation(err) {
		return xerrors.Errorf("add %s/%s: %w", c.ChannelRef, c.Kind, ErrExists)
	}
	if err != nil {
		return xerrors.Errorf("insert channel: %w", err)
	}
	return nil
}

// Update replaces the channel identified by keys with c.
func (r *Registry) Update(ctx context.Context, keys MatchKeys, c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := r.db.UpdateNotificationChannel(ctx, database.UpdateNotificationChannelParams{
		MatchChannelRef:       keys.ChannelRef,
		MatchNotificationType: string(keys.Kind),
		NotificationType:      string(c.Kind),
		ChannelRef:            c.ChannelRef,
		OwnerFilter:           c.OwnerFilter,
		IgnoreIfResident:      c.IgnoreIfResident,
		UpdatedAt:             r.now(),
	})
	if xerrors.Is(err, sql.ErrNoRows) {
		return xerrors.Errorf("update %s/%s: %w", keys.ChannelRef, keys.Kind, ErrNotFound)
	}
	if database.IsUniqueViolation(err) {
		return xerrors.Errorf("update %s/%s: %w", c.ChannelRef, c.Kind, ErrExists)
	}
	if err != nil {
		return xerrors.Errorf("update channel: %w", err)
	}
	return nil
}

func (r *Registry) Exists(ctx context.Context, keys MatchKeys) (bool, error) {
	if keys.ChannelRef == "" || keys.Kind == "" {
		return false, nil
	}
	rows, err := r.db.GetNotificationChannels(ctx, database.GetNotificationChannelsParams{
		ChannelRef:       keys.ChannelRef,
		NotificationType: string(keys.Kind),
	})
	if err != nil {
		return false, xerrors.Errorf("get channels: %w", err)
	}
	return len(rows) > 0, nil
}

func (r *Registry) List(ctx context.Context, f Filter) ([]Config, error) {
	rows, err := r.db.GetNotificationChannels(ctx, database.GetNotificationChannelsParams{
		ChannelRef:       f.ChannelRef,
		NotificationType: string(f.Kind),
	})
	if err != nil {
		return nil, xerrors.Errorf("get channels: %w", err)
	}
	configs := make([]Config, 0, len(rows))
	for _, row := range rows {
		configs = append(configs, FromRow(row))
	}
	return configs, nil
}

// Delete removes every channel matching f and returns how many were removed.
func (r *Registry) Delete(ctx context.Context, f Filter) (int64, error) {
	n, err := r.db.DeleteNotificationChannels(ctx, database.DeleteNotificationChannelsParams{
		ChannelRef:       f.ChannelRef,
		NotificationType: string(f.Kind),
	})
	if err != nil {
		return 0, xerrors.Errorf("delete channels: %w", err)
	}
	return n, nil
}

func FromRow(row database.NotificationChannel) Config {
	return Config{
		Kind:             Kind(row.NotificationType),
		ChannelRef:       row.ChannelRef,
		OwnerFilter:      row.OwnerFilter,
		IgnoreIfResident: row.IgnoreIfResident,
	}
}
