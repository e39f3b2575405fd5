// Package consolidate merges per-member observations into one dataset
// keyed by (station, timestamp).
package consolidate

import (
	"cmp"
	"errors"
	"slices"
	"time"

	"github.com/couchcryptid/weather-archive-etl/internal/domain"
)

// ErrFrozen is returned by Add once Dataset has been built.
var ErrFrozen = errors.New("consolidator already produced its dataset")

// Entry is an observation with the line it came from.
type Entry struct {
	Observation domain.Observation
	Line        int
}

// MemberObservations is everything one member contributed.
type MemberObservations struct {
	Ordinal int
	Member  string
	Station domain.StationMetadata
	Entries []Entry
}

// Source locates a row in the archive.
type Source struct {
	Ordinal int
	Member  string
	Line    int
}

func (s Source) before(o Source) bool {
	if s.Ordinal != o.Ordinal {
		return s.Ordinal < o.Ordinal
	}
	return s.Line < o.Line
}

// Collision records a second row for an existing key. Dropped is the
// row that lost, attributed to the member that produced it.
type Collision struct {
	StationID string
	Timestamp time.Time
	Kept      Source
	Dropped   Source
}

// Conflict records station metadata that disagrees with the copy kept
// from the lowest-ordinal member.
type Conflict struct {
	StationID  string
	KeptMember string
	Member     string
	Ordinal    int
	Fields     []string
}

type slot struct {
	obs domain.Observation
	src Source
}

type metaEntry struct {
	meta domain.StationMetadata
	src  Source
}

// Consolidator accumulates member results in any order. The row with the
// lowest (ordinal, line) wins each key, so the result does not depend on
// the order results arrive in. It is not safe for concurrent use; the
// pipeline feeds it from a single collector.
type Consolidator struct {
	slots      map[domain.Key]slot
	metas      map[string][]metaEntry
	collisions []Collision
	frozen     bool
}

// New creates an empty Consolidator.
func New() *Consolidator {
	return &Consolidator{
		slots: make(map[domain.Key]slot),
		metas: make(map[string][]metaEntry),
	}
}

// Add merges one member's observations.
func (c *Consolidator) Add(res MemberObservations) error {
	if c.frozen {
		return ErrFrozen
	}
	if res.Station.ID != "" {
		c.metas[res.Station.ID] = append(c.metas[res.Station.ID], metaEntry{
			meta: res.Station,
			src:  Source{Ordinal: res.Ordinal, Member: res.Member},
		})
	}

	for _, e := range res.Entries {
		src := Source{Ordinal: res.Ordinal, Member: res.Member, Line: e.Line}
		key := e.Observation.Key()
		existing, ok := c.slots[key]
		if !ok {
			c.slots[key] = slot{obs: e.Observation, src: src}
			continue
		}
		kept, dropped := existing.src, src
		if src.before(existing.src) {
			c.slots[key] = slot{obs: e.Observation, src: src}
			kept, dropped = src, existing.src
		}
		c.collisions = append(c.collisions, Collision{
			StationID: key.StationID,
			Timestamp: e.Observation.Timestamp,
			Kept:      kept,
			Dropped:   dropped,
		})
	}
	return nil
}

// Dataset sorts the accumulated observations and freezes the consolidator.
func (c *Consolidator) Dataset() *Dataset {
	c.frozen = true

	obs := make([]domain.Observation, 0, len(c.slots))
	for _, s := range c.slots {
		obs = append(obs, s.obs)
	}
	slices.SortFunc(obs, func(a, b domain.Observation) int {
		if r := cmp.Compare(a.StationID, b.StationID); r != 0 {
			return r
		}
		return a.Timestamp.Compare(b.Timestamp)
	})

	// A collision whose winner was later displaced still names the row that
	// holds the key now.
	collisions := make([]Collision, len(c.collisions))
	for i, col := range c.collisions {
		col.Kept = c.slots[domain.Key{StationID: col.StationID, Unix: col.Timestamp.Unix()}].src
		collisions[i] = col
	}
	slices.SortFunc(collisions, func(a, b Collision) int {
		if a.Dropped.before(b.Dropped) {
			return -1
		}
		if b.Dropped.before(a.Dropped) {
			return 1
		}
		return 0
	})

	stations := make(map[string]domain.StationMetadata, len(c.metas))
	var conflicts []Conflict
	for id, entries := range c.metas {
		slices.SortFunc(entries, func(a, b metaEntry) int { return cmp.Compare(a.src.Ordinal, b.src.Ordinal) })
		kept := entries[0]
		stations[id] = kept.meta
		for _, other := range entries[1:] {
			if diff := kept.meta.Differences(other.meta); len(diff) > 0 {
				conflicts = append(conflicts, Conflict{
					StationID:  id,
					KeptMember: kept.src.Member,
					Member:     other.src.Member,
					Ordinal:    other.src.Ordinal,
					Fields:     diff,
				})
			}
		}
	}
	slices.SortFunc(conflicts, func(a, b Conflict) int { return cmp.Compare(a.Ordinal, b.Ordinal) })

	return &Dataset{
		observations: obs,
		stations:     stations,
		collisions:   collisions,
		conflicts:    conflicts,
	}
}

// Dataset is the immutable, sorted result of a run.
type Dataset struct {
	observations []domain.Observation
	stations     map[string]domain.StationMetadata
	collisions   []Collision
	conflicts    []Conflict
}

// Len returns the number of observations.
func (d *Dataset) Len() int { return len(d.observations) }

// Observations returns the observations sorted by station then timestamp.
// The slice must not be modified.
func (d *Dataset) Observations() []domain.Observation { return d.observations }

// Station returns the metadata for id.
func (d *Dataset) Station(id string) (domain.StationMetadata, bool) {
	m, ok := d.stations[id]
	return m, ok
}

// StationIDs returns every station id in ascending order.
func (d *Dataset) StationIDs() []string {
	ids := make([]string, 0, len(d.stations))
	for id := range d.stations {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// CountByStation returns the number of observations per station.
func (d *Dataset) CountByStation() map[string]int {
	counts := make(map[string]int, len(d.stations))
	for i := range d.observations {
		counts[d.observations[i].StationID]++
	}
	return counts
}

// Collisions returns duplicate keys ordered by the dropped row's position.
func (d *Dataset) Collisions() []Collision { return d.collisions }

// Conflicts returns station metadata disagreements ordered by member.
func (d *Dataset) Conflicts() []Conflict { return d.conflicts }
