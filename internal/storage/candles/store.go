// Package candles persists the aggregated candle grid as yearly CSV
// partitions.
package candles

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cunarist/solie/internal/domain"
)

var partitionName = regexp.MustCompile(`^candle_data_(\d{4})\.csv$`)

// Store reads and writes yearly candle partitions under one directory.
// Files are replaced with a three-step rotation so a crash mid-write
// never destroys the previous partition: the fresh data lands in a
// .new file, the old file becomes .backup, then .new takes its place.
type Store struct {
	dir    string
	logger *zap.Logger
}

// NewStore creates the partition directory if needed.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create candle dir")
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) partitionPath(year int) string {
	return filepath.Join(s.dir, fmt.Sprintf("candle_data_%04d.csv", year))
}

// SaveYear writes one calendar-year partition from the grid, covering
// every tracked symbol. Rows where a symbol has no data are skipped,
// so partitions stay sparse on disk even though the in-memory grid is
// dense.
func (s *Store) SaveYear(grid *domain.CandleGrid, year int) error {
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)
	series := grid.SliceRange(from, to)

	final := s.partitionPath(year)
	fresh := final + ".new"

	f, err := os.Create(fresh)
	if err != nil {
		return errors.Wrap(err, "create partition")
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"time", "symbol", "open", "high", "low", "close", "volume"}); err != nil {
		f.Close()
		return errors.Wrap(err, "write partition header")
	}
	written := 0
	for i, moment := range series.Moments {
		for _, symbol := range grid.Symbols() {
			c := series.Candles[symbol][i]
			if c.IsEmpty() {
				continue
			}
			record := []string{
				strconv.FormatInt(moment.Unix(), 10),
				symbol,
				formatCell(c.Open),
				formatCell(c.High),
				formatCell(c.Low),
				formatCell(c.Close),
				formatCell(c.Volume),
			}
			if err := w.Write(record); err != nil {
				f.Close()
				return errors.Wrap(err, "write partition row")
			}
			written++
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return errors.Wrap(err, "flush partition")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close partition")
	}

	if _, err := os.Stat(final); err == nil {
		if err := os.Rename(final, final+".backup"); err != nil {
			return errors.Wrap(err, "rotate partition backup")
		}
	}
	if err := os.Rename(fresh, final); err != nil {
		return errors.Wrap(err, "promote partition")
	}

	s.logger.Debug("candle partition saved",
		zap.Int("year", year), zap.Int("rows", written))
	return nil
}

// SaveAll persists every calendar year present in the grid.
func (s *Store) SaveAll(grid *domain.CandleGrid) error {
	years := map[int]struct{}{}
	for _, m := range grid.Moments() {
		years[m.Year()] = struct{}{}
	}
	for year := range years {
		if err := s.SaveYear(grid, year); err != nil {
			return err
		}
	}
	return nil
}

// SaveCurrentYear persists only the partition holding the given moment,
// the cheap hourly variant of SaveAll.
func (s *Store) SaveCurrentYear(grid *domain.CandleGrid, now time.Time) error {
	return s.SaveYear(grid, now.UTC().Year())
}

// Load reads every partition in the directory and fills the grid with
// the rows of tracked symbols. Rows of symbols outside the target set
// are skipped in memory but left untouched on disk.
func (s *Store) Load(grid *domain.CandleGrid) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return errors.Wrap(err, "read candle dir")
	}
	tracked := map[string]bool{}
	for _, symbol := range grid.Symbols() {
		tracked[symbol] = true
	}
	loaded := 0
	for _, entry := range entries {
		if !partitionName.MatchString(entry.Name()) {
			continue
		}
		n, err := s.loadPartition(grid, tracked, filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return errors.Wrapf(err, "load %s", entry.Name())
		}
		loaded += n
	}
	s.logger.Info("candle partitions loaded", zap.Int("rows", loaded))
	return nil
}

func (s *Store) loadPartition(grid *domain.CandleGrid, tracked map[string]bool, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "open partition")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.ReuseRecord = true
	rows := 0
	for {
		record, err := reader.Read()
		if err != nil {
			break
		}
		if len(record) < 7 {
			continue
		}
		unix, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			// header row
			continue
		}
		if !tracked[record[1]] {
			continue
		}
		grid.SetRow(time.Unix(unix, 0).UTC(), record[1], domain.Candle{
			Open:   parseCell(record[2]),
			High:   parseCell(record[3]),
			Low:    parseCell(record[4]),
			Close:  parseCell(record[5]),
			Volume: parseCell(record[6]),
		})
		rows++
	}
	return rows, nil
}

// Years lists the calendar years that have a partition on disk,
// ascending.
func (s *Store) Years() ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(err, "read candle dir")
	}
	var years []int
	for _, entry := range entries {
		m := partitionName.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		year, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		years = append(years, year)
	}
	sort.Ints(years)
	return years, nil
}

func formatCell(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}

func parseCell(s string) float32 {
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return domain.NaN32()
	}
	return float32(v)
}
