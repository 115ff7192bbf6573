package market

// Candle 表示数据源返回的原始 K 线，时间戳为源上报的绝对时刻，
// 尚未归属任何交易 session。
type Candle struct {
	OpenTime  int64   `json:"open_time"`  // Unix ms
	CloseTime int64   `json:"close_time"` // Unix ms
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}
