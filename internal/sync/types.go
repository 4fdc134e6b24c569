package sync

import (
	"sort"

	"github.com/hyperengineering/simplesync/internal/store"
)

// Protocol is the tag carried by every sync request.
const Protocol = "simpleSync-0.1"

// Op is the operation carried by a delta entry.
type Op = store.ChangeOp

// Operation constants
const (
	OpSave   = store.OpSave
	OpDelete = store.OpDelete
)

// Entry is one record-level change. Record is set only for saves.
type Entry struct {
	Op     Op           `json:"op"`
	Record store.Record `json:"record,omitempty"`
}

// Delta maps table -> record id -> change.
type Delta map[string]map[int64]Entry

// Add records an entry, replacing any earlier one for the same id.
func (d Delta) Add(table string, id int64, e Entry) {
	rows, ok := d[table]
	if !ok {
		rows = make(map[int64]Entry)
		d[table] = rows
	}
	rows[id] = e
}

// Len returns the number of entries across all tables.
func (d Delta) Len() int {
	n := 0
	for _, rows := range d {
		n += len(rows)
	}
	return n
}

// Tables returns the table names in sorted order.
func (d Delta) Tables() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SortedIDs returns a table's ids in ascending order.
func (d Delta) SortedIDs(table string) []int64 {
	ids := make([]int64, 0, len(d[table]))
	for id := range d[table] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Remaps maps table -> temporary id -> canonical id.
type Remaps map[string]map[int64]int64

func (r Remaps) add(table string, from, to int64) {
	m, ok := r[table]
	if !ok {
		m = make(map[int64]int64)
		r[table] = m
	}
	m[from] = to
}

// Merge copies other into r.
func (r Remaps) Merge(other Remaps) {
	for table, m := range other {
		for from, to := range m {
			r.add(table, from, to)
		}
	}
}

// Request is the outbound half of a sync round.
type Request struct {
	Protocol       string
	AppVersion     string
	DBIdent        string
	DBVersion      int
	DBSyncedAt     string
	Delta          Delta
	ConversationID string
}

// Reply is the server's record-delta answer.
type Reply struct {
	AppVersion string `json:"appVersion"`
	DBIdent    string `json:"dbIdent"`
	DBVersion  int    `json:"dbVersion"`
	DBSyncedAt string `json:"dbSyncedAt,omitempty"`
	Delta      Delta  `json:"dbDelta"`
}
