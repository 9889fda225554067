package exchange

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cunarist/solie/pkg/retrier"
)

func buildArchive(t *testing.T, csvBody string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("BTCUSDT-aggTrades-2024-01.csv")
	require.NoError(t, err)
	_, err = w.Write([]byte(csvBody))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestParseAggTradeArchive(t *testing.T) {
	body := "1001,42000.5,0.25,5,6,1704067200123,true\n" +
		"1002,42001.0,0.10,7,7,1704067201456,false\n"
	trades, err := parseAggTradeArchive(buildArchive(t, body), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, trades, 2)

	require.Equal(t, "BTCUSDT", trades[0].Symbol)
	require.InDelta(t, 42000.5, trades[0].Price, 1e-9)
	require.InDelta(t, 0.25, trades[0].Volume, 1e-9)
	require.Equal(t, int64(1704067200123), trades[0].Time.UnixMilli())
}

func TestParseAggTradeArchiveSkipsHeader(t *testing.T) {
	body := "agg_trade_id,price,quantity,first_trade_id,last_trade_id,transact_time,is_buyer_maker\n" +
		"1001,42000.5,0.25,5,6,1704067200123,true\n"
	trades, err := parseAggTradeArchive(buildArchive(t, body), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, trades, 1)
}

func TestParseAggTradeArchiveRejectsGarbage(t *testing.T) {
	_, err := parseAggTradeArchive([]byte("not a zip"), "BTCUSDT")
	require.Error(t, err)
}

func newTestHistoryClient(t *testing.T, serverURL string) *HistoryClient {
	t.Helper()
	h := NewHistoryClient(nil, nil)
	h.baseURL = serverURL
	h.retry = retrier.New(
		retrier.WithInitialInterval(time.Millisecond),
		retrier.WithMaxRetries(2),
	)
	return h
}

func TestHistoryClientRetriesTransientFailures(t *testing.T) {
	body := buildArchive(t, "1001,42000.5,0.25,5,6,1704067200123,true\n")
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write(body)
	}))
	defer server.Close()

	h := newTestHistoryClient(t, server.URL)
	trades, ok, err := h.MonthlyAggTrades(context.Background(), "BTCUSDT", 2024, time.January)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, trades, 1)
	require.Equal(t, int32(3), hits.Load())
}

func TestHistoryClientDoesNotRetryMissingArchive(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	h := newTestHistoryClient(t, server.URL)
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	trades, ok, err := h.DailyAggTrades(context.Background(), "BTCUSDT", day)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, trades)
	require.Equal(t, int32(1), hits.Load())
}
