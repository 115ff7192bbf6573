package bundle

import (
	"context"
	"fmt"

	"barn/internal/align"
	"barn/internal/calendar"
)

// Reader 面向回测引擎的读取契约：把 bundle 加载进定长内存表后，
// 按 (session 下标, 分钟下标) 提供 O(1) 访问。加载前必须通过 Preflight，
// 否则下标换算不成立。
type Reader struct {
	meta              Bundle
	minutesPerSession int
	fine              []align.FineBar
	coarse            []align.SessionBar
	sessionIndex      map[int64]int
}

// Open 加载 bundle 并执行前置检查，非空差异直接拒绝。
func Open(ctx context.Context, store *Store, calReg *calendar.Registry, name string) (*Reader, error) {
	report, err := Preflight(ctx, store, calReg, name)
	if err != nil {
		return nil, err
	}
	if !report.Clean() {
		return nil, &SessionMismatchError{Report: report}
	}
	b, err := store.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	cal, err := calReg.Resolve(b.CalendarName)
	if err != nil {
		return nil, err
	}
	r := &Reader{
		meta:              b,
		minutesPerSession: cal.MinutesPerSession,
		fine:              b.Fine,
		coarse:            b.Coarse,
		sessionIndex:      make(map[int64]int, len(b.Coarse)),
	}
	for i, bar := range b.Coarse {
		r.sessionIndex[bar.Session] = i
	}
	return r, nil
}

// Meta 返回 bundle 元数据。
func (r *Reader) Meta() Bundle {
	meta := r.meta
	meta.Fine = nil
	meta.Coarse = nil
	return meta
}

// NumSessions 返回粗粒度表长度。
func (r *Reader) NumSessions() int { return len(r.coarse) }

// SessionAt 按 session 下标取粗粒度行。
func (r *Reader) SessionAt(idx int) (align.SessionBar, error) {
	if idx < 0 || idx >= len(r.coarse) {
		return align.SessionBar{}, fmt.Errorf("session 下标越界: %d (共 %d)", idx, len(r.coarse))
	}
	return r.coarse[idx], nil
}

// FineAt 按 (session 下标, 分钟下标) 取细粒度行。
func (r *Reader) FineAt(sessionIdx, minute int) (align.FineBar, error) {
	if len(r.fine) == 0 {
		return align.FineBar{}, fmt.Errorf("bundle %s 无细粒度数据", r.meta.Name)
	}
	if sessionIdx < 0 || sessionIdx >= len(r.coarse) {
		return align.FineBar{}, fmt.Errorf("session 下标越界: %d (共 %d)", sessionIdx, len(r.coarse))
	}
	if minute < 0 || minute >= r.minutesPerSession {
		return align.FineBar{}, fmt.Errorf("分钟下标越界: %d (每 session %d 分钟)", minute, r.minutesPerSession)
	}
	return r.fine[sessionIdx*r.minutesPerSession+minute], nil
}

// SessionIndex 把 session 日换算成下标。
func (r *Reader) SessionIndex(session int64) (int, bool) {
	idx, ok := r.sessionIndex[session]
	return idx, ok
}
