package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"barn/internal/logger"
	"barn/internal/market"
	symbolpkg "barn/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2/futures"
)

const maxKlineLimit = 1500

// BinanceConfig 控制 REST 访问方式。
type BinanceConfig struct {
	RESTBaseURL  string
	HTTPTimeout  time.Duration
	ProxyEnabled bool
	ProxyURL     string
}

func (c BinanceConfig) withDefaults() BinanceConfig {
	if strings.TrimSpace(c.RESTBaseURL) == "" {
		c.RESTBaseURL = "https://fapi.binance.com"
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	return c
}

// BinanceSource 基于 go-binance SDK 拉取合约历史 K 线。
type BinanceSource struct {
	cfg    BinanceConfig
	client *futures.Client
}

func NewBinance(cfg BinanceConfig) (*BinanceSource, error) {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = strings.TrimSpace(final.RESTBaseURL)
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("代理地址无效: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &BinanceSource{cfg: final, client: client}, nil
}

func (s *BinanceSource) Name() string { return "binance" }

// Fetch 按 1500 条一页向前翻页，直到覆盖 [Start, End)。
func (s *BinanceSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	symbol := strings.TrimSpace(req.Symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	// Binance 需要无斜杠写法（ETHUSDT）。
	cleanSymbol := symbolpkg.Binance.ToExchange(symbol)

	interval := strings.ToLower(strings.TrimSpace(req.Interval))
	if interval == "" {
		return nil, fmt.Errorf("interval 不能为空")
	}
	if req.Start <= 0 || req.End <= req.Start {
		return nil, fmt.Errorf("拉取区间无效: [%d, %d)", req.Start, req.End)
	}

	var out []market.Candle
	cursor := req.Start
	for cursor < req.End {
		svc := s.client.NewKlinesService().
			Symbol(cleanSymbol).
			Interval(interval).
			StartTime(cursor).
			EndTime(req.End - 1).
			Limit(maxKlineLimit)
		kls, err := svc.Do(ctx)
		if err != nil {
			return nil, err
		}
		if len(kls) == 0 {
			break
		}
		for _, kl := range kls {
			if kl == nil {
				continue
			}
			if kl.OpenTime < cursor || kl.OpenTime >= req.End {
				continue
			}
			out = append(out, market.Candle{
				OpenTime:  kl.OpenTime,
				CloseTime: kl.CloseTime,
				Open:      parseFloat(kl.Open),
				High:      parseFloat(kl.High),
				Low:       parseFloat(kl.Low),
				Close:     parseFloat(kl.Close),
				Volume:    parseFloat(kl.Volume),
				Trades:    kl.TradeNum,
			})
		}
		last := kls[len(kls)-1]
		if last == nil || last.OpenTime < cursor {
			break
		}
		cursor = last.CloseTime + 1
		if len(kls) < maxKlineLimit {
			break
		}
		logger.Debugf("[binance] %s %s 翻页至 %d", cleanSymbol, interval, cursor)
	}
	return out, nil
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
