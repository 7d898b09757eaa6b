package aggregator

import (
	"math"
	"strconv"
	"sync"

	"github.com/LeonardoBeccarini/uadashboard/pkg/metrics"
)

// Missing fills the slots of a series row that have no numeric value.
const Missing = "NaN"

// TableRow is one entry of the latest-value table.
type TableRow struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Timestamp string `json:"timestamp"`
}

// Row is one timestamp of the chart series, one value per column.
type Row struct {
	Timestamp string
	Values    []string
}

type reading struct {
	value string
	time  string
}

// Store holds the latest value per display name and the chart series.
// Every resident series row always has one slot per known name.
type Store struct {
	mu sync.Mutex

	columns []string
	index   map[string]int
	latest  map[string]reading

	rowOrder []string
	series   map[string][]string

	// announced counts the columns already handed to the scheduler.
	announced int
}

func NewStore() *Store {
	s := &Store{}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.columns = nil
	s.index = make(map[string]int)
	s.latest = make(map[string]reading)
	s.rowOrder = nil
	s.series = make(map[string][]string)
	s.announced = 0
}

// Apply applies updates in order under one critical section.
func (s *Store) Apply(updates []Update) {
	if len(updates) == 0 {
		return
	}

	s.mu.Lock()
	for _, u := range updates {
		s.apply(u)
	}
	cols := len(s.columns)
	s.mu.Unlock()

	metrics.UpdatesApplied.Add(float64(len(updates)))
	metrics.Columns.Set(float64(cols))
}

func (s *Store) apply(u Update) {
	col, known := s.index[u.Name]
	if !known {
		col = len(s.columns)
		s.columns = append(s.columns, u.Name)
		s.index[u.Name] = col
		for ts, row := range s.series {
			s.series[ts] = append(row, Missing)
		}
	}
	s.latest[u.Name] = reading{value: u.Value, time: u.Time}

	f, err := strconv.ParseFloat(u.Value, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return
	}

	row, ok := s.series[u.Time]
	if !ok || len(row) != len(s.columns) {
		fresh := make([]string, len(s.columns))
		for i := range fresh {
			fresh[i] = Missing
		}
		copy(fresh, row)
		row = fresh
		if !ok {
			s.rowOrder = append(s.rowOrder, u.Time)
		}
	}
	row[col] = strconv.FormatFloat(f, 'f', -1, 64)
	s.series[u.Time] = row
}

// Clear empties the table and the series. The next name gets column zero and
// every column is announced again.
func (s *Store) Clear() {
	s.mu.Lock()
	s.reset()
	s.mu.Unlock()

	metrics.Columns.Set(0)
}

// Latest returns the latest-value table in column order.
func (s *Store) Latest() []TableRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table()
}

func (s *Store) table() []TableRow {
	rows := make([]TableRow, 0, len(s.columns))
	for _, name := range s.columns {
		r := s.latest[name]
		rows = append(rows, TableRow{Name: name, Value: r.value, Timestamp: r.time})
	}
	return rows
}

// Columns returns the known display names in column order.
func (s *Store) Columns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.columns...)
}

func (s *Store) SeriesLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.series)
}

// Row returns a copy of the series row for a timestamp.
func (s *Store) Row(timestamp string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.series[timestamp]
	if !ok {
		return nil, false
	}
	return append([]string(nil), row...), true
}

type snapshot struct {
	announce []string
	rows     []Row
	table    []TableRow
}

// drain collects the pending column announcements (all of them when
// reannounce is set), removes the series rows and copies the table.
func (s *Store) drain(reannounce bool) snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.announced
	if reannounce {
		start = 0
	}
	snap := snapshot{
		announce: append([]string(nil), s.columns[start:]...),
		rows:     make([]Row, 0, len(s.rowOrder)),
		table:    s.table(),
	}
	s.announced = len(s.columns)

	for _, ts := range s.rowOrder {
		snap.rows = append(snap.rows, Row{Timestamp: ts, Values: s.series[ts]})
	}
	s.rowOrder = nil
	s.series = make(map[string][]string)
	return snap
}
