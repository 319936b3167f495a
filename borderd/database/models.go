package database

import "time"

// NotificationChannel is one configured notification destination. The pair
// (ChannelRef, NotificationType) is unique.
type NotificationChannel struct {
	NotificationType string    `db:"notification_type" json:"notification_type"`
	ChannelRef       string    `db:"channel_ref" json:"channel_ref"`
	OwnerFilter      string    `db:"owner_filter" json:"owner_filter"`
	IgnoreIfResident bool      `db:"ignore_if_resident" json:"ignore_if_resident"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// ResidencySighting counts the ticks a player was seen inside a territory.
type ResidencySighting struct {
	Player      string    `db:"player" json:"player"`
	Territory   string    `db:"territory" json:"territory"`
	Affiliation string    `db:"affiliation" json:"affiliation"`
	Sightings   int64     `db:"sightings" json:"sightings"`
	LastSeenAt  time.Time `db:"last_seen_at" json:"last_seen_at"`
}

type InsertNotificationChannelParams struct {
	NotificationType string
	ChannelRef       string
	OwnerFilter      string
	IgnoreIfResident bool
	CreatedAt        time.Time
}

// UpdateNotificationChannelParams rewrites the row matched by
// (MatchChannelRef, MatchNotificationType).
type UpdateNotificationChannelParams struct {
	MatchChannelRef       string
	MatchNotificationType string

	NotificationType string
	ChannelRef       string
	OwnerFilter      string
	IgnoreIfResident bool
	UpdatedAt        time.Time
}

// GetNotificationChannelsParams filters by the non-empty fields.
type GetNotificationChannelsParams struct {
	ChannelRef       string
	NotificationType string
}

// DeleteNotificationChannelsParams filters by the non-empty fields. With
// both empty every channel is deleted.
type DeleteNotificationChannelsParams struct {
	ChannelRef       string
	NotificationType string
}

type UpsertResidencySightingParams struct {
	Player      string
	Territory   string
	Affiliation string
	SeenAt      time.Time
}
