// Package dbmem is an in-memory database.Store for tests.
package dbmem

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/borderwatch/borderwatch/borderd/database"
)

// FakeDatabase is helpful for knowing if the underlying db is an in memory
// fake database.
type FakeDatabase interface {
	IsFakeDB()
}

// New returns an in-memory fake of the database.
func New() database.Store {
	return &fakeQuerier{
		mutex: &sync.RWMutex{},
		data: &data{
			notificationChannels: make([]database.NotificationChannel, 0),
			residencySightings:   make([]database.ResidencySighting, 0),
		},
	}
}

type rwMutex interface {
	Lock()
	RLock()
	Unlock()
	RUnlock()
}

// inTxMutex is a no op, since inside a transaction we are already locked.
type inTxMutex struct{}

func (inTxMutex) Lock()    {}
func (inTxMutex) RLock()   {}
func (inTxMutex) Unlock()  {}
func (inTxMutex) RUnlock() {}

type fakeQuerier struct {
	mutex rwMutex
	*data
}

type data struct {
	notificationChannels []database.NotificationChannel
	residencySightings   []database.ResidencySighting
}

func (fakeQuerier) IsFakeDB() {}

func (*fakeQuerier) Ping(_ context.Context) (time.Duration, error) {
	return 0, nil
}

func (*fakeQuerier) Close() error {
	return nil
}

// InTx doesn't rollback data properly for in-memory yet.
func (q *fakeQuerier) InTx(fn func(database.Store) error, _ *sql.TxOptions) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return fn(&fakeQuerier{mutex: inTxMutex{}, data: q.data})
}

func matchChannel(c database.NotificationChannel, channelRef, notificationType string) bool {
	if channelRef != "" && c.ChannelRef != channelRef {
		return false
	}
	if notificationType != "" && c.NotificationType != notificationType {
		return false
	}
	return true
}

func (q *fakeQuerier) InsertNotificationChannel(_ context.Context, arg database.InsertNotificationChannelParams) (database.NotificationChannel, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	for _, c := range q.notificationChannels {
		if c.ChannelRef == arg.ChannelRef && c.NotificationType == arg.NotificationType {
			return database.NotificationChannel{}, database.UniqueViolation("notification_channels")
		}
	}
	created := database.NotificationChannel{
		NotificationType: arg.NotificationType,
		ChannelRef:       arg.ChannelRef,
		OwnerFilter:      arg.OwnerFilter,
		IgnoreIfResident: arg.IgnoreIfResident,
		CreatedAt:        arg.CreatedAt.UTC(),
		UpdatedAt:        arg.CreatedAt.UTC(),
	}
	q.notificationChannels = append(q.notificationChannels, created)
	return created, nil
}

func (q *fakeQuerier) UpdateNotificationChannel(_ context.Context, arg database.UpdateNotificationChannelParams) (database.NotificationChannel, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	index := -1
	for i, c := range q.notificationChannels {
		if c.ChannelRef == arg.MatchChannelRef && c.NotificationType == arg.MatchNotificationType {
			index = i
			continue
		}
		if c.ChannelRef == arg.ChannelRef && c.NotificationType == arg.NotificationType {
			return database.NotificationChannel{}, database.UniqueViolation("notification_channels")
		}
	}
	if index < 0 {
		return database.NotificationChannel{}, sql.ErrNoRows
	}
	c := q.notificationChannels[index]
	c.NotificationType = arg.NotificationType
	c.ChannelRef = arg.ChannelRef
	c.OwnerFilter = arg.OwnerFilter
	c.IgnoreIfResident = arg.IgnoreIfResident
	c.UpdatedAt = arg.UpdatedAt.UTC()
	q.notificationChannels[index] = c
	return c, nil
}

func (q *fakeQuerier) GetNotificationChannels(_ context.Context, arg database.GetNotificationChannelsParams) ([]database.NotificationChannel, error) {
	q.mutex.RLock()
	defer q.mutex.RUnlock()

	channels := make([]database.NotificationChannel, 0)
	for _, c := range q.notificationChannels {
		if matchChannel(c, arg.ChannelRef, arg.NotificationType) {
			channels = append(channels, c)
		}
	}
	return channels, nil
}

func (q *fakeQuerier) DeleteNotificationChannels(_ context.Context, arg database.DeleteNotificationChannelsParams) (int64, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	kept := q.notificationChannels[:0]
	var deleted int64
	for _, c := range q.notificationChannels {
		if matchChannel(c, arg.ChannelRef, arg.NotificationType) {
			deleted++
			continue
		}
		kept = append(kept, c)
	}
	q.notificationChannels = kept
	return deleted, nil
}

func (q *fakeQuerier) UpsertResidencySighting(_ context.Context, arg database.UpsertResidencySightingParams) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	for i, s := range q.residencySightings {
		if s.Player == arg.Player && s.Territory == arg.Territory {
			s.Sightings++
			s.Affiliation = arg.Affiliation
			s.LastSeenAt = arg.SeenAt.UTC()
			q.residencySightings[i] = s
			return nil
		}
	}
	q.residencySightings = append(q.residencySightings, database.ResidencySighting{
		Player:      arg.Player,
		Territory:   arg.Territory,
		Affiliation: arg.Affiliation,
		Sightings:   1,
		LastSeenAt:  arg.SeenAt.UTC(),
	})
	return nil
}

func (q *fakeQuerier) GetResidencySightingsByPlayer(_ context.Context, player string) ([]database.ResidencySighting, error) {
	q.mutex.RLock()
	defer q.mutex.RUnlock()

	sightings := make([]database.ResidencySighting, 0)
	for _, s := range q.residencySightings {
		if s.Player == player {
			sightings = append(sightings, s)
		}
	}
	sort.SliceStable(sightings, func(i, j int) bool {
		if sightings[i].Sightings != sightings[j].Sightings {
			return sightings[i].Sightings > sightings[j].Sightings
		}
		if !sightings[i].LastSeenAt.Equal(sightings[j].LastSeenAt) {
			return sightings[i].LastSeenAt.After(sightings[j].LastSeenAt)
		}
		return sightings[i].Territory < sightings[j].Territory
	})
	return sightings, nil
}
