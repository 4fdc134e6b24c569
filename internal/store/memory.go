package store

import (
	"context"
	"fmt"
	"sort"
)

// MemoryStore is the pure in-memory backend. Transactions snapshot the whole
// state on entry and restore it when the scope fails.
type MemoryStore struct {
	state    memState
	depth    int
	readOnly bool
}

type memState struct {
	tables  map[string]*memTable
	meta    map[string]string
	changes map[string]map[int64]ChangeOp
}

type memTable struct {
	def  TableDef
	rows map[int64]Record
}

// NewMemoryStore returns an empty, writable in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: memState{
		tables:  make(map[string]*memTable),
		meta:    make(map[string]string),
		changes: make(map[string]map[int64]ChangeOp),
	}}
}

func (st memState) clone() memState {
	out := memState{
		tables:  make(map[string]*memTable, len(st.tables)),
		meta:    make(map[string]string, len(st.meta)),
		changes: make(map[string]map[int64]ChangeOp, len(st.changes)),
	}
	for name, t := range st.tables {
		rows := make(map[int64]Record, len(t.rows))
		for id, r := range t.rows {
			rows[id] = r.Clone()
		}
		out.tables[name] = &memTable{def: t.def.Clone(), rows: rows}
	}
	for k, v := range st.meta {
		out.meta[k] = v
	}
	for name, log := range st.changes {
		cp := make(map[int64]ChangeOp, len(log))
		for id, op := range log {
			cp[id] = op
		}
		out.changes[name] = cp
	}
	return out
}

// Transact implements Store.
func (s *MemoryStore) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	snapshot := s.state.clone()
	s.depth++
	done := false
	defer func() {
		s.depth--
		if !done {
			s.state = snapshot
		}
	}()

	if err := fn(ctx); err != nil {
		return err
	}
	done = true
	return nil
}

func (s *MemoryStore) writable() error {
	if s.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (s *MemoryStore) table(name string) (*memTable, error) {
	t, ok := s.state.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTable, name)
	}
	return t, nil
}

// Tables implements Store.
func (s *MemoryStore) Tables(ctx context.Context) ([]TableDef, error) {
	defs := make([]TableDef, 0, len(s.state.tables))
	for _, t := range s.state.tables {
		defs = append(defs, t.def.Clone())
	}
	sortDefs(defs)
	return defs, nil
}

// Table implements Store.
func (s *MemoryStore) Table(ctx context.Context, name string) (TableDef, error) {
	t, err := s.table(name)
	if err != nil {
		return TableDef{}, err
	}
	return t.def.Clone(), nil
}

// CreateTable implements Store.
func (s *MemoryStore) CreateTable(ctx context.Context, def TableDef) error {
	if err := s.writable(); err != nil {
		return err
	}
	def, err := normalizeDef(def)
	if err != nil {
		return err
	}
	if _, ok := s.state.tables[def.Name]; ok {
		return fmt.Errorf("%w: %s", ErrTableExists, def.Name)
	}
	s.state.tables[def.Name] = &memTable{def: def, rows: make(map[int64]Record)}
	return nil
}

// DropTable implements Store.
func (s *MemoryStore) DropTable(ctx context.Context, name string) error {
	if err := s.writable(); err != nil {
		return err
	}
	if _, err := s.table(name); err != nil {
		return err
	}
	delete(s.state.tables, name)
	delete(s.state.changes, name)
	return nil
}

// AddColumn implements Store.
func (s *MemoryStore) AddColumn(ctx context.Context, table string, col Column) error {
	if err := s.writable(); err != nil {
		return err
	}
	t, err := s.table(table)
	if err != nil {
		return err
	}
	if err := ValidateName(col.Name); err != nil {
		return err
	}
	if t.def.HasColumn(col.Name) {
		return fmt.Errorf("%w: %s.%s", ErrColumnExists, table, col.Name)
	}
	if col.Type == "" {
		col.Type = TypeText
	}
	t.def.Columns = append(t.def.Columns, col)
	return nil
}

// DropColumn implements Store.
func (s *MemoryStore) DropColumn(ctx context.Context, table, column string) error {
	if err := s.writable(); err != nil {
		return err
	}
	t, err := s.table(table)
	if err != nil {
		return err
	}
	if column == ColID {
		return fmt.Errorf("%w: cannot drop %s.%s", ErrInvalidName, table, column)
	}
	idx := -1
	for i, c := range t.def.Columns {
		if c.Name == column {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s.%s", ErrNoColumn, table, column)
	}
	t.def.Columns = append(t.def.Columns[:idx], t.def.Columns[idx+1:]...)
	for _, r := range t.rows {
		delete(r, column)
	}
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, table string, id int64) (Record, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	r, ok := t.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%d", ErrNotFound, table, id)
	}
	return r.Clone(), nil
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, table string, rec Record) error {
	if err := s.writable(); err != nil {
		return err
	}
	t, err := s.table(table)
	if err != nil {
		return err
	}
	id, err := rec.ID()
	if err != nil {
		return err
	}
	row := make(Record, len(t.def.Columns))
	for _, c := range t.def.Columns {
		row[c.Name] = Normalize(rec[c.Name])
	}
	row[ColID] = id
	t.rows[id] = row
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, table string, id int64) error {
	if err := s.writable(); err != nil {
		return err
	}
	t, err := s.table(table)
	if err != nil {
		return err
	}
	delete(t.rows, id)
	return nil
}

// Records implements Store.
func (s *MemoryStore) Records(ctx context.Context, table string) ([]Record, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Record, len(ids))
	for i, id := range ids {
		out[i] = t.rows[id].Clone()
	}
	return out, nil
}

// Meta implements Store.
func (s *MemoryStore) Meta(ctx context.Context, key string) (string, error) {
	v, ok := s.state.meta[key]
	if !ok {
		return "", fmt.Errorf("meta key %q: %w", key, ErrNotFound)
	}
	return v, nil
}

// SetMeta implements Store.
func (s *MemoryStore) SetMeta(ctx context.Context, key, value string) error {
	if err := s.writable(); err != nil {
		return err
	}
	s.state.meta[key] = value
	return nil
}

// DeleteMeta implements Store.
func (s *MemoryStore) DeleteMeta(ctx context.Context, key string) error {
	if err := s.writable(); err != nil {
		return err
	}
	delete(s.state.meta, key)
	return nil
}

// MarkChanged implements Store.
func (s *MemoryStore) MarkChanged(ctx context.Context, table string, id int64, op ChangeOp) error {
	if err := s.writable(); err != nil {
		return err
	}
	log, ok := s.state.changes[table]
	if !ok {
		log = make(map[int64]ChangeOp)
		s.state.changes[table] = log
	}
	log[id] = op
	return nil
}

// Changes implements Store.
func (s *MemoryStore) Changes(ctx context.Context, table string) (map[int64]ChangeOp, error) {
	out := make(map[int64]ChangeOp, len(s.state.changes[table]))
	for id, op := range s.state.changes[table] {
		out[id] = op
	}
	return out, nil
}

// ClearChanges implements Store.
func (s *MemoryStore) ClearChanges(ctx context.Context, table string, ids ...int64) error {
	if err := s.writable(); err != nil {
		return err
	}
	log := s.state.changes[table]
	for _, id := range ids {
		delete(log, id)
	}
	if len(log) == 0 {
		delete(s.state.changes, table)
	}
	return nil
}

// ReadOnly implements Store.
func (s *MemoryStore) ReadOnly() bool { return s.readOnly }

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
