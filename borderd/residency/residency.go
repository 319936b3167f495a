// Package residency infers where a player lives from how often they have
// been seen inside each territory.
package residency

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/coder/quartz"
	"golang.org/x/xerrors"

	"cdr.dev/slog/v3"

	"github.com/borderwatch/borderwatch/borderd/database"
	"github.com/borderwatch/borderwatch/borderd/database/dbtime"
	"github.com/borderwatch/borderwatch/borderd/world"
)

// DefaultMinSightings is the number of ticks a player must be seen in a
// territory before it is considered their home.
const DefaultMinSightings = 3

// Residency is the likely home of a player.
type Residency struct {
	Territory   string `json:"territory"`
	Affiliation string `json:"affiliation"`
	Sightings   int64  `json:"sightings"`
}

func (r Residency) String() string {
	if r.Affiliation == "" {
		return r.Territory
	}
	return fmt.Sprintf("%s (%s)", r.Territory, r.Affiliation)
}

// Inferrer resolves residency from stored sightings.
type Inferrer struct {
	db           database.Store
	minSightings int64
}

func NewInferrer(db database.Store, minSightings int64) *Inferrer {
	if minSightings <= 0 {
		minSightings = DefaultMinSightings
	}
	return &Inferrer{db: db, minSightings: minSightings}
}

// Resolve returns the territory the occupant has been sighted in most
// often. It reports false when no territory has enough sightings.
func (i *Inferrer) Resolve(ctx context.Context, o world.Occupant) (Residency, bool, error) {
	sightings, err := i.db.GetResidencySightingsByPlayer(ctx, o.Name)
	if err != nil {
		return Residency{}, false, xerrors.Errorf("get sightings for %q: %w", o.Name, err)
	}
	if len(sightings) == 0 || sightings[0].Sightings < i.minSightings {
		return Residency{}, false, nil
	}
	top := sightings[0]
	return Residency{
		Territory:   top.Territory,
		Affiliation: top.Affiliation,
		Sightings:   top.Sightings,
	}, true, nil
}

// Recorder stores a sighting for every occupant of a snapshot. It runs
// after a tick has resolved residency, so the territory being entered does
// not count toward an entrant's home on the entry tick.
type Recorder struct {
	db    database.Store
	log   slog.Logger
	clock quartz.Clock
}

func NewRecorder(db database.Store, log slog.Logger, clock quartz.Clock) *Recorder {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Recorder{
		db:    db,
		log:   log.Named("residency"),
		clock: clock,
	}
}

// Record stores one sighting per (occupant, territory) pair in snap.
func (r *Recorder) Record(ctx context.Context, snap world.Snapshot) error {
	now := dbtime.Time(r.clock.Now())
	var recorded int
	err := r.db.InTx(func(tx database.Store) error {
		for territory, occupants := range snap.Occupants {
			owner := snap.Territories[territory].Owner
			for _, o := range occupants {
				err := tx.UpsertResidencySighting(ctx, database.UpsertResidencySightingParams{
					Player:      o.Name,
					Territory:   territory,
					Affiliation: owner,
					SeenAt:      now,
				})
				if err != nil {
					return xerrors.Errorf("upsert sighting for %q in %q: %w", o.Name, territory, err)
				}
				recorded++
			}
		}
		return nil
	}, &sql.TxOptions{})
	if err != nil {
		return err
	}
	r.log.Debug(ctx, "recorded residency sightings", slog.F("count", recorded))
	return nil
}
