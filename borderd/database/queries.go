package database

import (
	"context"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

// Rows keep timestamps as unix milliseconds.
type notificationChannelRow struct {
	NotificationType string `db:"notification_type"`
	ChannelRef       string `db:"channel_ref"`
	OwnerFilter      string `db:"owner_filter"`
	IgnoreIfResident bool   `db:"ignore_if_resident"`
	CreatedAt        int64  `db:"created_at"`
	UpdatedAt        int64  `db:"updated_at"`
}

func (r notificationChannelRow) model() NotificationChannel {
	return NotificationChannel{
		NotificationType: r.NotificationType,
		ChannelRef:       r.ChannelRef,
		OwnerFilter:      r.OwnerFilter,
		IgnoreIfResident: r.IgnoreIfResident,
		CreatedAt:        fromMillis(r.CreatedAt),
		UpdatedAt:        fromMillis(r.UpdatedAt),
	}
}

type residencySightingRow struct {
	Player      string `db:"player"`
	Territory   string `db:"territory"`
	Affiliation string `db:"affiliation"`
	Sightings   int64  `db:"sightings"`
	LastSeenAt  int64  `db:"last_seen_at"`
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

const notificationChannelColumns = `notification_type, channel_ref, owner_filter, ignore_if_resident, created_at, updated_at`

func (q *sqlQuerier) InsertNotificationChannel(ctx context.Context, arg InsertNotificationChannelParams) (NotificationChannel, error) {
	const query = `
INSERT INTO notification_channels (` + notificationChannelColumns + `)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING ` + notificationChannelColumns

	var row notificationChannelRow
	err := q.db.GetContext(ctx, &row, query,
		arg.NotificationType,
		arg.ChannelRef,
		arg.OwnerFilter,
		arg.IgnoreIfResident,
		toMillis(arg.CreatedAt),
		toMillis(arg.CreatedAt),
	)
	if err != nil {
		return NotificationChannel{}, err
	}
	return row.model(), nil
}

func (q *sqlQuerier) UpdateNotificationChannel(ctx context.Context, arg UpdateNotificationChannelParams) (NotificationChannel, error) {
	const query = `
UPDATE notification_channels
SET notification_type = ?, channel_ref = ?, owner_filter = ?, ignore_if_resident = ?, updated_at = ?
WHERE channel_ref = ? AND notification_type = ?
RETURNING ` + notificationChannelColumns

	var row notificationChannelRow
	err := q.db.GetContext(ctx, &row, query,
		arg.NotificationType,
		arg.ChannelRef,
		arg.OwnerFilter,
		arg.IgnoreIfResident,
		toMillis(arg.UpdatedAt),
		arg.MatchChannelRef,
		arg.MatchNotificationType,
	)
	if err != nil {
		return NotificationChannel{}, err
	}
	return row.model(), nil
}

// channelFilter builds a WHERE clause from the non-empty filter fields.
func channelFilter(channelRef, notificationType string) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)
	if channelRef != "" {
		clauses = append(clauses, "channel_ref = ?")
		args = append(args, channelRef)
	}
	if notificationType != "" {
		clauses = append(clauses, "notification_type = ?")
		args = append(args, notificationType)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (q *sqlQuerier) GetNotificationChannels(ctx context.Context, arg GetNotificationChannelsParams) ([]NotificationChannel, error) {
	where, args := channelFilter(arg.ChannelRef, arg.NotificationType)
	query := `SELECT ` + notificationChannelColumns + ` FROM notification_channels` + where + ` ORDER BY created_at, channel_ref, notification_type`

	var rows []notificationChannelRow
	if err := q.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	channels := make([]NotificationChannel, 0, len(rows))
	for _, r := range rows {
		channels = append(channels, r.model())
	}
	return channels, nil
}

func (q *sqlQuerier) DeleteNotificationChannels(ctx context.Context, arg DeleteNotificationChannelsParams) (int64, error) {
	where, args := channelFilter(arg.ChannelRef, arg.NotificationType)
	res, err := q.db.ExecContext(ctx, `DELETE FROM notification_channels`+where, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, xerrors.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (q *sqlQuerier) UpsertResidencySighting(ctx context.Context, arg UpsertResidencySightingParams) error {
	const query = `
INSERT INTO residency_sightings (player, territory, affiliation, sightings, last_seen_at)
VALUES (?, ?, ?, 1, ?)
ON CONFLICT (player, territory) DO UPDATE SET
	sightings = residency_sightings.sightings + 1,
	affiliation = excluded.affiliation,
	last_seen_at = excluded.last_seen_at`

	_, err := q.db.ExecContext(ctx, query, arg.Player, arg.Territory, arg.Affiliation, toMillis(arg.SeenAt))
	return err
}

func (q *sqlQuerier) GetResidencySightingsByPlayer(ctx context.Context, player string) ([]ResidencySighting, error) {
	const query = `
SELECT player, territory, affiliation, sightings, last_seen_at
FROM residency_sightings
WHERE player = ?
ORDER BY sightings DESC, last_seen_at DESC, territory`

	var rows []residencySightingRow
	if err := q.db.SelectContext(ctx, &rows, query, player); err != nil {
		return nil, err
	}
	sightings := make([]ResidencySighting, 0, len(rows))
	for _, r := range rows {
		sightings = append(sightings, ResidencySighting{
			Player:      r.Player,
			Territory:   r.Territory,
			Affiliation: r.Affiliation,
			Sightings:   r.Sightings,
			LastSeenAt:  fromMillis(r.LastSeenAt),
		})
	}
	return sightings, nil
}
