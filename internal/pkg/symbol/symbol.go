package symbol

import (
	"strings"
)

// 内部统一使用 BASE/QUOTE 写法，交易所侧的拼法差异都收在本包里，
// 调用方不自己拼接字符串。

type Symbol struct {
	Base  string
	Quote string
}

// Internal 返回内部标识（BASE/QUOTE），字段不全时返回空串。
func (s Symbol) Internal() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

// Binance 返回币安接口使用的无分隔写法（BASEQUOTE）。
func (s Symbol) Binance() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

// quoteCurrencies 用于拆分无分隔写法，长后缀放前面避免误切。
var quoteCurrencies = []string{"USDT", "BUSD", "USDC", "TUSD", "BTC", "ETH", "BNB"}

// Parse 接受 BTC/USDT、btcusdt、BTC/USDT:USDT 等写法。
// 无法识别计价币时返回零值。
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}

	// 去掉合约写法的结算币后缀
	s, _, _ = strings.Cut(s, ":")

	if base, quote, ok := strings.Cut(s, "/"); ok {
		return Symbol{
			Base:  strings.TrimSpace(base),
			Quote: strings.TrimSpace(quote),
		}
	}

	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{
				Base:  s[:len(s)-len(quote)],
				Quote: quote,
			}
		}
	}

	return Symbol{}
}

// Normalize 把任意写法归一化为内部标识，无法识别时返回空串。
func Normalize(s string) string {
	return Parse(s).Internal()
}

// NormalizeList 归一化并去重，保持输入顺序。
func NormalizeList(symbols []string) []string {
	if len(symbols) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		norm := Normalize(s)
		if norm == "" {
			norm = strings.ToUpper(strings.TrimSpace(s))
			if norm == "" {
				continue
			}
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}

func IsValid(s string) bool {
	sym := Parse(s)
	return sym.Base != "" && sym.Quote != ""
}

// BinanceConverter 负责内部标识与币安无分隔写法之间的互转。
type BinanceConverter struct{}

// ToExchange 把内部标识转成币安写法，已经是无分隔写法的输入原样大写返回。
func (BinanceConverter) ToExchange(internal string) string {
	s := strings.ToUpper(strings.TrimSpace(internal))
	return strings.ReplaceAll(s, "/", "")
}

// FromExchange 把币安返回的符号还原为内部标识。
func (BinanceConverter) FromExchange(raw string) string {
	return Parse(raw).Internal()
}

var Binance = BinanceConverter{}
