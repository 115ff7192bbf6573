package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"barn/internal/market"
	symbolpkg "barn/internal/pkg/symbol"

	"github.com/tidwall/gjson"
)

// FileSource 从本地目录读取历史 K 线，文件名为 <SYMBOL>.json
// （无斜杠写法，如 BTCUSDT.json）。兼容两种文件格式：
// Binance 原始数组（[openTime, open, high, low, close, volume, closeTime, ...]）
// 和对象数组（{"open_time":..., "open":..., ...}）。离线回填与测试数据走这里。
type FileSource struct {
	dir string
}

func NewFile(dir string) (*FileSource, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("数据目录不能为空")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("数据目录不可用: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s 不是目录", dir)
	}
	return &FileSource{dir: dir}, nil
}

func (s *FileSource) Name() string { return "file" }

func (s *FileSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	symbol := symbolpkg.Binance.ToExchange(req.Symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	path := filepath.Join(s.dir, symbol+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取 %s 失败: %w", path, err)
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%s 不是合法 JSON", path)
	}
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("%s 顶层必须是数组", path)
	}

	var out []market.Candle
	var badRows int
	parsed.ForEach(func(_, row gjson.Result) bool {
		c, ok := parseRow(row)
		if !ok {
			badRows++
			return true
		}
		if c.OpenTime < req.Start || (req.End > 0 && c.OpenTime >= req.End) {
			return true
		}
		out = append(out, c)
		return true
	})
	if badRows > 0 {
		return nil, fmt.Errorf("%s 含 %d 行无法解析的记录", path, badRows)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	return out, nil
}

func parseRow(row gjson.Result) (market.Candle, bool) {
	if row.IsArray() {
		cols := row.Array()
		if len(cols) < 6 {
			return market.Candle{}, false
		}
		c := market.Candle{
			OpenTime: cols[0].Int(),
			Open:     cols[1].Float(),
			High:     cols[2].Float(),
			Low:      cols[3].Float(),
			Close:    cols[4].Float(),
			Volume:   cols[5].Float(),
		}
		if len(cols) > 6 {
			c.CloseTime = cols[6].Int()
		}
		if len(cols) > 8 {
			c.Trades = cols[8].Int()
		}
		if c.OpenTime <= 0 {
			return market.Candle{}, false
		}
		return c, true
	}
	if row.IsObject() {
		c := market.Candle{
			OpenTime:  row.Get("open_time").Int(),
			CloseTime: row.Get("close_time").Int(),
			Open:      row.Get("open").Float(),
			High:      row.Get("high").Float(),
			Low:       row.Get("low").Float(),
			Close:     row.Get("close").Float(),
			Volume:    row.Get("volume").Float(),
			Trades:    row.Get("trades").Int(),
		}
		if c.OpenTime <= 0 {
			return market.Candle{}, false
		}
		return c, true
	}
	return market.Candle{}, false
}
