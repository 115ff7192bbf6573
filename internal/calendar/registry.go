package calendar

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrDuplicateName 注册重名日历或别名时返回。
	ErrDuplicateName = errors.New("日历名称重复")
	// ErrNotFound 解析未注册的日历名时返回，调用方应视为配置错误。
	ErrNotFound = errors.New("日历不存在")
)

// Registry 管理命名日历与别名。日历在进程启动时注册完毕，之后只读。
type Registry struct {
	mu        sync.RWMutex
	calendars map[string]Calendar
	aliases   map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		calendars: make(map[string]Calendar),
		aliases:   make(map[string]string),
	}
}

func normName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register 注册日历，重名返回 ErrDuplicateName。
func (r *Registry) Register(c Calendar) error {
	if err := c.Validate(); err != nil {
		return err
	}
	key := normName(c.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calendars[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, c.Name)
	}
	if _, ok := r.aliases[key]; ok {
		return fmt.Errorf("%w: %s（已被别名占用）", ErrDuplicateName, c.Name)
	}
	r.calendars[key] = c
	return nil
}

// Alias 为已注册日历建立别名，大小写不敏感。
func (r *Registry) Alias(alias, target string) error {
	aliasKey := normName(alias)
	targetKey := normName(target)
	if aliasKey == "" {
		return fmt.Errorf("别名不能为空")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calendars[targetKey]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, target)
	}
	if _, ok := r.calendars[aliasKey]; ok {
		return fmt.Errorf("%w: %s（与日历名冲突）", ErrDuplicateName, alias)
	}
	if existing, ok := r.aliases[aliasKey]; ok && existing != targetKey {
		return fmt.Errorf("%w: %s", ErrDuplicateName, alias)
	}
	r.aliases[aliasKey] = targetKey
	return nil
}

// Resolve 按名称或别名查找日历。未知名称是配置错误，永不回退默认值。
func (r *Registry) Resolve(nameOrAlias string) (Calendar, error) {
	key := normName(nameOrAlias)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.calendars[key]; ok {
		return c, nil
	}
	if target, ok := r.aliases[key]; ok {
		if c, ok := r.calendars[target]; ok {
			return c, nil
		}
	}
	return Calendar{}, fmt.Errorf("%w: %s", ErrNotFound, nameOrAlias)
}

// Names 返回已注册日历名（排序后），用于错误提示与 API 展示。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.calendars))
	for _, c := range r.calendars {
		out = append(out, c.Name)
	}
	sort.Strings(out)
	return out
}

// Builtin 返回内置日历集：XNYS（390 分钟股票时段）、24/7、24/5。
func Builtin() *Registry {
	r := NewRegistry()
	xnys, err := NewStandard("XNYS", 14*time.Hour+30*time.Minute, 390, xnysHolidays)
	if err != nil {
		panic(err)
	}
	mustRegister(r, xnys)
	mustRegister(r, NewAlwaysOpen("24/7"))
	mustRegister(r, NewWeekday24h("24/5", 0))
	mustAlias(r, "NYSE", "XNYS")
	mustAlias(r, "us_equities", "XNYS")
	mustAlias(r, "crypto", "24/7")
	mustAlias(r, "always_open", "24/7")
	mustAlias(r, "weekday", "24/5")
	return r
}

func mustRegister(r *Registry, c Calendar) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

func mustAlias(r *Registry, alias, target string) {
	if err := r.Alias(alias, target); err != nil {
		panic(err)
	}
}

// xnysHolidays 覆盖近年 NYSE 全天休市日；更早区间由 YAML 日历文件补充。
var xnysHolidays = []string{
	"2023-01-02", "2023-01-16", "2023-02-20", "2023-04-07", "2023-05-29",
	"2023-06-19", "2023-07-04", "2023-09-04", "2023-11-23", "2023-12-25",
	"2024-01-01", "2024-01-15", "2024-02-19", "2024-03-29", "2024-05-27",
	"2024-06-19", "2024-07-04", "2024-09-02", "2024-11-28", "2024-12-25",
	"2025-01-01", "2025-01-20", "2025-02-17", "2025-04-18", "2025-05-26",
	"2025-06-19", "2025-07-04", "2025-09-01", "2025-11-27", "2025-12-25",
	"2026-01-01", "2026-01-19", "2026-02-16", "2026-04-03", "2026-05-25",
	"2026-06-19", "2026-07-03", "2026-09-07", "2026-11-26", "2026-12-25",
}
