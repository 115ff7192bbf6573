package source

import (
	"context"

	"barn/internal/market"
)

// FetchRequest 描述一次历史 K 线拉取。区间为 [Start, End)，单位 Unix ms。
type FetchRequest struct {
	Symbol   string
	Interval string
	Start    int64
	End      int64
}

// CandleSource 统一不同数据源的历史拉取行为。实现负责分页，
// 返回的序列按 OpenTime 升序。
type CandleSource interface {
	Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error)
	Name() string
}
