package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/borderwatch/borderwatch/borderd/geo"
	"github.com/borderwatch/borderwatch/borderd/notifications"
)

// Key identifies an episode.
type Key struct {
	Territory string `json:"territory"`
	Occupant  string `json:"occupant"`
}

// Notice is the notification sent when an episode started.
type Notice struct {
	Handle  notifications.Handle  `json:"handle"`
	Message notifications.Message `json:"message"`
}

// Episode is one continuous stay of an occupant inside a territory.
type Episode struct {
	ID        uuid.UUID `json:"id"`
	Territory string    `json:"territory"`
	Occupant  string    `json:"occupant"`
	// ElapsedTicks counts the ticks the occupant has been seen, starting
	// at 1 on creation.
	ElapsedTicks int `json:"elapsed_ticks"`
	// Notice is nil when the initial notification could not be delivered.
	Notice    *Notice     `json:"notice,omitempty"`
	Journey   []geo.Point `json:"journey"`
	StartedAt time.Time   `json:"started_at"`
}

func (e Episode) Key() Key {
	return Key{Territory: e.Territory, Occupant: e.Occupant}
}

// Observe appends p to the journey unless it equals the last sample. It
// reports whether p was appended.
func (e *Episode) Observe(p geo.Point) bool {
	if n := len(e.Journey); n > 0 && e.Journey[n-1] == p {
		return false
	}
	e.Journey = append(e.Journey, p)
	return true
}

func (e Episode) clone() Episode {
	c := e
	c.Journey = append([]geo.Point(nil), e.Journey...)
	if e.Notice != nil {
		n := *e.Notice
		n.Message = e.Notice.Message.Clone()
		c.Notice = &n
	}
	return c
}

// EpisodeStore holds live episodes bucketed by territory. Values are copied
// in and out, so readers never observe an episode mid-update.
type EpisodeStore struct {
	mu          sync.RWMutex
	byTerritory map[string]map[string]Episode
}

func NewEpisodeStore() *EpisodeStore {
	return &EpisodeStore{byTerritory: make(map[string]map[string]Episode)}
}

func (s *EpisodeStore) Get(territory, occupant string) (Episode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byTerritory[territory][occupant]
	if !ok {
		return Episode{}, false
	}
	return e.clone(), true
}

// Upsert stores e, replacing any episode with the same key.
func (s *EpisodeStore) Upsert(e Episode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.byTerritory[e.Territory]
	if !ok {
		bucket = make(map[string]Episode)
		s.byTerritory[e.Territory] = bucket
	}
	bucket[e.Occupant] = e.clone()
}

// RemoveIfExists deletes the episode and reports whether it existed. Empty
// buckets are left for PruneEmpty.
func (s *EpisodeStore) RemoveIfExists(territory, occupant string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.byTerritory[territory]
	if !ok {
		return false
	}
	if _, ok := bucket[occupant]; !ok {
		return false
	}
	delete(bucket, occupant)
	return true
}

// ForEachTerritory calls fn with a copy of every territory bucket, sorted
// by territory then occupant. fn may mutate the store.
func (s *EpisodeStore) ForEachTerritory(fn func(territory string, episodes []Episode)) {
	s.mu.RLock()
	territories := make([]string, 0, len(s.byTerritory))
	buckets := make(map[string][]Episode, len(s.byTerritory))
	for territory, bucket := range s.byTerritory {
		territories = append(territories, territory)
		episodes := make([]Episode, 0, len(bucket))
		for _, e := range bucket {
			episodes = append(episodes, e.clone())
		}
		sort.Slice(episodes, func(i, j int) bool {
			return episodes[i].Occupant < episodes[j].Occupant
		})
		buckets[territory] = episodes
	}
	s.mu.RUnlock()

	sort.Strings(territories)
	for _, territory := range territories {
		fn(territory, buckets[territory])
	}
}

// PruneEmpty drops the territory bucket if it holds no episodes.
func (s *EpisodeStore) PruneEmpty(territory string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.byTerritory[territory]
	if !ok || len(bucket) > 0 {
		return false
	}
	delete(s.byTerritory, territory)
	return true
}

// Len returns the number of live episodes.
func (s *EpisodeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, bucket := range s.byTerritory {
		n += len(bucket)
	}
	return n
}

// Territories returns the number of territory buckets, including empty
// ones not yet pruned.
func (s *EpisodeStore) Territories() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byTerritory)
}

// List returns copies of all live episodes.
func (s *EpisodeStore) List() []Episode {
	all := make([]Episode, 0)
	s.ForEachTerritory(func(_ string, episodes []Episode) {
		all = append(all, episodes...)
	})
	return all
}
