package listing

import (
	"encoding/json"
	"strings"
	"time"
)

// Snapshot is an immutable, newest-first view of the listings at one point
// in time. Accessors hand out copies.
type Snapshot struct {
	listings []Record
	loadedAt time.Time
	version  uint64
}

func newSnapshot(list []Record, loadedAt time.Time) Snapshot {
	return Snapshot{listings: list, loadedAt: loadedAt}
}

func (s Snapshot) withVersion(v uint64) Snapshot {
	s.version = v
	return s
}

func (s Snapshot) Listings() []Record {
	out := make([]Record, len(s.listings))
	copy(out, s.listings)
	return out
}

func (s Snapshot) Len() int { return len(s.listings) }

func (s Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Version increases with every snapshot a Board publishes. Snapshots that
// did not come from a Board report 0.
func (s Snapshot) Version() uint64 { return s.version }

// Get returns the first listing with the given id.
func (s Snapshot) Get(id string) (Record, bool) {
	for _, r := range s.listings {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// Query selects listings from a snapshot. Search matches service type or
// provider, case-insensitively. Status "" or "all" matches every status.
type Query struct {
	Search string
	Status string
	Limit  int
	Offset int
}

// Page is one window of a query result.
type Page struct {
	Listings []Record `json:"listings"`
	Total    int      `json:"total"`
	Limit    int      `json:"limit"`
	Offset   int      `json:"offset"`
}

func (s Snapshot) Query(q Query) Page {
	needle := strings.ToLower(strings.TrimSpace(q.Search))
	matched := make([]Record, 0, len(s.listings))
	for _, r := range s.listings {
		if q.Status != "" && q.Status != "all" && string(r.Status) != q.Status {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(r.ServiceType), needle) &&
			!strings.Contains(strings.ToLower(r.Provider), needle) {
			continue
		}
		matched = append(matched, r)
	}

	total := len(matched)
	offset := max(q.Offset, 0)
	if offset > total {
		offset = total
	}
	end := total
	if q.Limit > 0 && offset+q.Limit < total {
		end = offset + q.Limit
	}
	return Page{
		Listings: matched[offset:end],
		Total:    total,
		Limit:    q.Limit,
		Offset:   offset,
	}
}

// Stats summarizes a snapshot for dashboards.
type Stats struct {
	Total         int     `json:"total"`
	Available     int     `json:"available"`
	Matched       int     `json:"matched"`
	Completed     int     `json:"completed"`
	AvgReputation float64 `json:"avg_reputation"`
}

func (s Snapshot) Stats() Stats {
	st := Stats{Total: len(s.listings)}
	sum := 0
	for _, r := range s.listings {
		switch r.Status {
		case StatusAvailable:
			st.Available++
		case StatusMatched:
			st.Matched++
		case StatusCompleted:
			st.Completed++
		}
		sum += r.Reputation
	}
	if st.Total > 0 {
		st.AvgReputation = float64(sum) / float64(st.Total)
	}
	return st
}

type snapshotJSON struct {
	Version  uint64    `json:"version"`
	LoadedAt time.Time `json:"loaded_at"`
	Listings []Record  `json:"listings"`
	Stats    Stats     `json:"stats"`
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		Version:  s.version,
		LoadedAt: s.loadedAt,
		Listings: s.Listings(),
		Stats:    s.Stats(),
	})
}
