package exchange

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cunarist/solie/internal/domain"
	"github.com/cunarist/solie/pkg/retrier"
)

const historyBaseURL = "https://data.binance.vision/data/futures/um"

// HistoryClient downloads pre-packed aggregate trade archives from the
// public Binance data repository. Monthly archives cover whole months,
// daily archives fill the current month.
type HistoryClient struct {
	httpClient *http.Client
	baseURL    string
	retry      *retrier.Retrier
	tel        *Telemetry
	logger     *zap.Logger
}

// NewHistoryClient creates a downloader with a generous timeout; the
// monthly archives run to hundreds of megabytes. Transient failures
// are retried with backoff before a download is given up.
func NewHistoryClient(tel *Telemetry, logger *zap.Logger) *HistoryClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryClient{
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		baseURL:    historyBaseURL,
		retry:      retrier.New(retrier.WithMaxRetries(3)),
		tel:        tel,
		logger:     logger,
	}
}

// MonthlyAggTrades fetches one month of aggregate trades for a symbol.
// A 404 means the archive does not exist (symbol not yet listed, or
// the month is too recent) and returns ok=false without error.
func (h *HistoryClient) MonthlyAggTrades(ctx context.Context, symbol string, year int, month time.Month) ([]domain.AggTrade, bool, error) {
	url := fmt.Sprintf("%s/monthly/aggTrades/%s/%s-aggTrades-%04d-%02d.zip",
		h.baseURL, symbol, symbol, year, int(month))
	return h.fetch(ctx, symbol, url)
}

// DailyAggTrades fetches one day of aggregate trades for a symbol.
func (h *HistoryClient) DailyAggTrades(ctx context.Context, symbol string, day time.Time) ([]domain.AggTrade, bool, error) {
	day = day.UTC()
	url := fmt.Sprintf("%s/daily/aggTrades/%s/%s-aggTrades-%04d-%02d-%02d.zip",
		h.baseURL, symbol, symbol, day.Year(), int(day.Month()), day.Day())
	return h.fetch(ctx, symbol, url)
}

// archivePage is one download result; notFound distinguishes a missing
// archive from a transient failure so the retrier leaves 404s alone.
type archivePage struct {
	body     []byte
	notFound bool
}

func (h *HistoryClient) fetch(ctx context.Context, symbol, url string) ([]domain.AggTrade, bool, error) {
	page, err := retrier.DoWithData(h.retry, ctx, func(ctx context.Context) (archivePage, error) {
		return h.download(ctx, url)
	})
	if err != nil {
		return nil, false, err
	}
	if page.notFound {
		return nil, false, nil
	}

	trades, err := parseAggTradeArchive(page.body, symbol)
	if err != nil {
		return nil, false, errors.Wrapf(err, "parse %s", url)
	}
	h.logger.Debug("archive downloaded",
		zap.String("url", url), zap.Int("trades", len(trades)))
	return trades, true, nil
}

func (h *HistoryClient) download(ctx context.Context, url string) (archivePage, error) {
	if h.tel != nil {
		h.tel.Requests.WithLabelValues("dataArchive").Inc()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return archivePage{}, errors.Wrap(err, "build archive request")
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		if h.tel != nil {
			h.tel.Errors.WithLabelValues("dataArchive").Inc()
		}
		return archivePage{}, errors.Wrapf(err, "download %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return archivePage{notFound: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		if h.tel != nil {
			h.tel.Errors.WithLabelValues("dataArchive").Inc()
		}
		return archivePage{}, errors.Errorf("download %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return archivePage{}, errors.Wrapf(err, "read %s", url)
	}
	return archivePage{body: body}, nil
}

// parseAggTradeArchive unpacks the single CSV inside an archive. The
// column layout is agg_trade_id, price, quantity, first_trade_id,
// last_trade_id, transact_time, is_buyer_maker; some archives carry a
// header row, some do not.
func parseAggTradeArchive(data []byte, symbol string) ([]domain.AggTrade, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.Wrap(err, "open zip")
	}
	if len(zr.File) == 0 {
		return nil, errors.New("empty archive")
	}

	f, err := zr.File[0].Open()
	if err != nil {
		return nil, errors.Wrap(err, "open archive entry")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.ReuseRecord = true
	var trades []domain.AggTrade
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read csv row")
		}
		if len(record) < 6 {
			continue
		}
		price, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			// header row
			continue
		}
		volume, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			continue
		}
		transactTime, err := strconv.ParseInt(record[5], 10, 64)
		if err != nil {
			continue
		}
		trades = append(trades, domain.AggTrade{
			Time:   time.UnixMilli(transactTime).UTC(),
			Symbol: symbol,
			Price:  price,
			Volume: volume,
		})
	}
	return trades, nil
}
