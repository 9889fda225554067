package collector

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cunarist/solie/internal/domain"
)

// earliestArchiveYear is the first year the public futures archives
// cover.
const earliestArchiveYear = 2020

// backfillWorkers bounds concurrent archive downloads.
const backfillWorkers = 4

// BackfillRange is the user's choice of how far back to fill.
type BackfillRange int

const (
	// BackfillPastYears downloads every complete month from 2020
	// through the last full calendar year.
	BackfillPastYears BackfillRange = iota
	// BackfillCurrentYear downloads the complete months of the
	// current year.
	BackfillCurrentYear
	// BackfillThisMonth downloads this month day by day, up to
	// yesterday.
	BackfillThisMonth
	// BackfillLastTwoDays downloads yesterday and the day before.
	BackfillLastTwoDays
)

// Progress is one sample of backfill completion for the progress bar.
type Progress struct {
	Done  int
	Total int
}

type backfillJob struct {
	symbol string
	year   int
	month  time.Month
	day    time.Time
	daily  bool
}

// Backfill downloads the chosen range of historical archives,
// synthesizes 10-second candles and merges them. Completed previous
// years stream directly into their own partition and are not kept in
// the live grid. Progress samples are sent best-effort; a nil channel
// is fine.
func (c *Collector) Backfill(ctx context.Context, choice BackfillRange, progress chan<- Progress) error {
	now := time.Now().UTC()

	switch choice {
	case BackfillPastYears:
		return c.backfillPastYears(ctx, now, progress)
	case BackfillCurrentYear:
		jobs := c.monthJobs(now.Year(), time.January, now.Month()-1)
		return c.runJobs(ctx, jobs, c.grid, progressReporter(progress, 0, len(jobs)))
	case BackfillThisMonth:
		var jobs []backfillJob
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		for day := first; day.Before(now.Truncate(24 * time.Hour)); day = day.AddDate(0, 0, 1) {
			for _, symbol := range c.symbols {
				jobs = append(jobs, backfillJob{symbol: symbol, day: day, daily: true})
			}
		}
		return c.runJobs(ctx, jobs, c.grid, progressReporter(progress, 0, len(jobs)))
	case BackfillLastTwoDays:
		var jobs []backfillJob
		today := now.Truncate(24 * time.Hour)
		for _, day := range []time.Time{today.AddDate(0, 0, -2), today.AddDate(0, 0, -1)} {
			for _, symbol := range c.symbols {
				jobs = append(jobs, backfillJob{symbol: symbol, day: day, daily: true})
			}
		}
		return c.runJobs(ctx, jobs, c.grid, progressReporter(progress, 0, len(jobs)))
	}
	return errors.Errorf("unknown backfill range %d", choice)
}

// backfillPastYears processes one year at a time so only a single
// year's candles are held in memory beyond the live grid.
func (c *Collector) backfillPastYears(ctx context.Context, now time.Time, progress chan<- Progress) error {
	lastFullYear := now.Year() - 1
	total := 0
	for year := earliestArchiveYear; year <= lastFullYear; year++ {
		total += 12 * len(c.symbols)
	}
	done := 0
	for year := earliestArchiveYear; year <= lastFullYear; year++ {
		yearGrid := domain.NewCandleGrid(c.symbols)
		jobs := c.monthJobs(year, time.January, time.December)
		if err := c.runJobs(ctx, jobs, yearGrid, progressReporter(progress, done, total)); err != nil {
			return err
		}
		done += len(jobs)
		if err := c.store.SaveYear(yearGrid, year); err != nil {
			return errors.Wrapf(err, "persist year %d", year)
		}
		c.logger.Info("backfilled year", zap.Int("year", year))
	}
	return nil
}

func (c *Collector) monthJobs(year int, from, to time.Month) []backfillJob {
	var jobs []backfillJob
	for month := from; month <= to; month++ {
		for _, symbol := range c.symbols {
			jobs = append(jobs, backfillJob{symbol: symbol, year: year, month: month})
		}
	}
	return jobs
}

func (c *Collector) runJobs(ctx context.Context, jobs []backfillJob, grid *domain.CandleGrid, onDone func(int)) error {
	if len(jobs) == 0 {
		return nil
	}
	var counter atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(backfillWorkers)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			var trades []domain.AggTrade
			var found bool
			var err error
			if job.daily {
				trades, found, err = c.history.DailyAggTrades(ctx, job.symbol, job.day)
			} else {
				trades, found, err = c.history.MonthlyAggTrades(ctx, job.symbol, job.year, job.month)
			}
			if err != nil {
				return err
			}
			if found {
				synthesizeInto(grid, job.symbol, trades, true)
			}
			if onDone != nil {
				onDone(int(counter.Add(1)))
			}
			return nil
		})
	}
	return g.Wait()
}

// progressReporter rebases per-pool completion counts onto the overall
// total and sends them without blocking.
func progressReporter(progress chan<- Progress, offset, total int) func(int) {
	if progress == nil {
		return nil
	}
	return func(done int) {
		select {
		case progress <- Progress{Done: offset + done, Total: total}:
		default:
		}
	}
}
