package barnhttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"barn/internal/align"
	"barn/internal/bundle"
	"barn/internal/calendar"
	"barn/internal/ingest"
	"barn/internal/market"
	"barn/internal/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newTestServer(t *testing.T) (*Server, *bundle.Store, *calendar.Registry) {
	t.Helper()
	store, err := bundle.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	calReg := calendar.Builtin()
	srv, err := NewServer(Config{Store: store, Calendars: calReg})
	require.NoError(t, err)
	return srv, store, calReg
}

func writeCoarse(t *testing.T, store *bundle.Store, cal calendar.Calendar, name, firstDate, lastDate string) bundle.Bundle {
	t.Helper()
	first, err := calendar.ParseSessionDate(firstDate)
	require.NoError(t, err)
	last, err := calendar.ParseSessionDate(lastDate)
	require.NoError(t, err)
	b := bundle.Bundle{
		Name:         name,
		Symbol:       "BTC/USDT",
		CalendarName: cal.Name,
		Timeframe:    market.TimeframeSession,
		FirstSession: first,
		LastSession:  last,
	}
	for _, s := range cal.SessionsInRange(first, last) {
		b.Coarse = append(b.Coarse, align.SessionBar{
			Session: s,
			Bar:     align.Bar{Open: 1, High: 2, Low: 1, Close: 2, Volume: 3},
		})
	}
	require.NoError(t, store.Write(context.Background(), b))
	return b
}

func doGet(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestBundleListAndDetail(t *testing.T) {
	srv, store, calReg := newTestServer(t)
	cal, err := calReg.Resolve("24/7")
	require.NoError(t, err)
	writeCoarse(t, store, cal, "crypto-btcusdt", "2025-03-01", "2025-03-03")

	rec := doGet(t, srv, "/api/bundles")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "crypto-btcusdt", gjson.Get(rec.Body.String(), "bundles.0.name").String())

	rec = doGet(t, srv, "/api/bundles/crypto-btcusdt")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(3), gjson.Get(rec.Body.String(), "bundle.coarse.#").Int())

	rec = doGet(t, srv, "/api/bundles/no-such")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreflightEndpoint(t *testing.T) {
	srv, store, calReg := newTestServer(t)
	cal, err := calReg.Resolve("24/7")
	require.NoError(t, err)
	b := writeCoarse(t, store, cal, "crypto-btcusdt", "2025-03-01", "2025-03-03")

	rec := doGet(t, srv, "/api/bundles/crypto-btcusdt/preflight")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, gjson.Get(rec.Body.String(), "clean").Bool())

	// 挖掉一行后再查：冲突并点名缺失 session。
	b.Coarse = append(b.Coarse[:1], b.Coarse[2:]...)
	require.NoError(t, store.Write(context.Background(), b))
	rec = doGet(t, srv, "/api/bundles/crypto-btcusdt/preflight")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, gjson.Get(rec.Body.String(), "detail").String(), "2025-03-02")
}

type flatSource struct {
	candles []market.Candle
}

func (f flatSource) Name() string { return "fake" }

func (f flatSource) Fetch(_ context.Context, req source.FetchRequest) ([]market.Candle, error) {
	var out []market.Candle
	for _, c := range f.candles {
		if c.OpenTime >= req.Start && c.OpenTime < req.End {
			out = append(out, c)
		}
	}
	return out, nil
}

func sessionCandles(cal calendar.Calendar, first, last int64, skip map[int64]bool) []market.Candle {
	var out []market.Candle
	for _, s := range cal.SessionsInRange(first, last) {
		if skip[s] {
			continue
		}
		open := cal.SessionOpen(s)
		out = append(out, market.Candle{
			OpenTime:  open,
			CloseTime: open + calendar.DayMillis - 1,
			Open:      100, High: 101, Low: 99, Close: 100, Volume: 5,
		})
	}
	return out
}

func ingestServer(t *testing.T, src source.CandleSource, opts ingest.Options) *Server {
	t.Helper()
	store, err := bundle.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	calReg := calendar.Builtin()
	svc, err := ingest.NewService(src, calReg, store, nil, nil, opts)
	require.NoError(t, err)
	srv, err := NewServer(Config{Store: store, Calendars: calReg, Service: svc})
	require.NoError(t, err)
	return srv
}

func doIngest(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestIngestEndpointHonorsCalendarGapOverride(t *testing.T) {
	calReg := calendar.Builtin()
	cal, err := calReg.Resolve("24/7")
	require.NoError(t, err)
	first, err := calendar.ParseSessionDate("2025-03-01")
	require.NoError(t, err)
	last, err := calendar.ParseSessionDate("2025-03-07")
	require.NoError(t, err)
	skip := map[int64]bool{
		first + 2*calendar.DayMillis: true,
		first + 3*calendar.DayMillis: true, // 连续缺 2 个 session
	}
	src := flatSource{candles: sessionCandles(cal, first, last, skip)}
	body := `{"symbols":["BTCUSDT"],"calendar":"24/7","timeframe":"session","first":"2025-03-01","last":"2025-03-07"}`

	// 仅默认策略：缺口在上限内，合成补齐。
	srv := ingestServer(t, src, ingest.Options{
		GapPolicy:    align.GapPolicy{MaxSessions: 5, MaxMinutes: 10},
		BundlePrefix: "crypto",
	})
	rec := doIngest(t, srv, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), gjson.Get(rec.Body.String(), "failed.#").Int())

	// 同一请求在带覆盖项的服务上必须被收紧的策略拒绝。
	srv = ingestServer(t, src, ingest.Options{
		GapPolicy:    align.GapPolicy{MaxSessions: 5, MaxMinutes: 10},
		GapPolicies:  map[string]align.GapPolicy{"24/7": {MaxSessions: 1, MaxMinutes: 10}},
		BundlePrefix: "crypto",
	})
	rec = doIngest(t, srv, body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(1), gjson.Get(rec.Body.String(), "failed.#").Int())
	assert.Equal(t, "BTC/USDT", gjson.Get(rec.Body.String(), "failed.0").String())
	assert.Contains(t, gjson.Get(rec.Body.String(), "results.0.error").String(), "补洞策略违规")
}

func TestRunsDisabled(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doGet(t, srv, "/api/runs")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
