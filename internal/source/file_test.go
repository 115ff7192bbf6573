package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeData(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestFileSourceArrayFormat(t *testing.T) {
	dir := t.TempDir()
	// Binance 原始格式：数值列允许带引号。
	writeData(t, dir, "BTCUSDT.json", `[
		[1740787200000, "100.0", "102.0", "99.0", "101.0", "10.5", 1740787259999, "0", 42],
		[1740787260000, "101.0", "103.0", "100.0", "102.0", "11.0", 1740787319999, "0", 37]
	]`)

	s, err := NewFile(dir)
	require.NoError(t, err)
	candles, err := s.Fetch(context.Background(), FetchRequest{
		Symbol: "BTC/USDT", Interval: "1m", Start: 1740787200000,
	})
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 101.0, candles[0].Close)
	assert.Equal(t, int64(42), candles[0].Trades)
	assert.Equal(t, int64(1740787259999), candles[0].CloseTime)
}

func TestFileSourceObjectFormatAndRangeFilter(t *testing.T) {
	dir := t.TempDir()
	writeData(t, dir, "ETHUSDT.json", `[
		{"open_time": 1740787260000, "close_time": 1740787319999, "open": 2000, "high": 2010, "low": 1990, "close": 2005, "volume": 3.2, "trades": 11},
		{"open_time": 1740787200000, "close_time": 1740787259999, "open": 1990, "high": 2001, "low": 1985, "close": 2000, "volume": 2.8, "trades": 9},
		{"open_time": 1740787320000, "close_time": 1740787379999, "open": 2005, "high": 2015, "low": 2000, "close": 2010, "volume": 4.1, "trades": 14}
	]`)

	s, err := NewFile(dir)
	require.NoError(t, err)
	candles, err := s.Fetch(context.Background(), FetchRequest{
		Symbol: "ETHUSDT", Start: 1740787200000, End: 1740787320000,
	})
	require.NoError(t, err)
	// End 之外的行被过滤，乱序输入被排序。
	require.Len(t, candles, 2)
	assert.Equal(t, int64(1740787200000), candles[0].OpenTime)
	assert.Equal(t, int64(1740787260000), candles[1].OpenTime)
}

func TestFileSourceRejectsBadRows(t *testing.T) {
	dir := t.TempDir()
	writeData(t, dir, "BTCUSDT.json", `[[1740787200000, "100", "102", "99", "101", "10"], "not-a-row"]`)

	s, err := NewFile(dir)
	require.NoError(t, err)
	_, err = s.Fetch(context.Background(), FetchRequest{Symbol: "BTCUSDT", Start: 1})
	assert.ErrorContains(t, err, "无法解析")
}

func TestFileSourceMissingFile(t *testing.T) {
	s, err := NewFile(t.TempDir())
	require.NoError(t, err)
	_, err = s.Fetch(context.Background(), FetchRequest{Symbol: "SOLUSDT", Start: 1})
	assert.Error(t, err)
}
