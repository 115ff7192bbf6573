package calendar

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func mustDay(t *testing.T, date string) int64 {
	t.Helper()
	day, err := ParseSessionDate(date)
	require.NoError(t, err)
	return day
}

func TestAlwaysOpenSessions(t *testing.T) {
	c := NewAlwaysOpen("24/7")
	start := mustDay(t, "2025-03-07") // 周五
	end := mustDay(t, "2025-03-10")   // 周一
	sessions := c.SessionsInRange(start, end)
	assert.Len(t, sessions, 4, "7x24 日历包含周末")
	assert.Equal(t, 1440, c.MinutesPerSession)
}

func TestWeekday24hSkipsWeekend(t *testing.T) {
	c := NewWeekday24h("24/5", 0)
	start := mustDay(t, "2025-03-07")
	end := mustDay(t, "2025-03-10")
	sessions := c.SessionsInRange(start, end)
	require.Len(t, sessions, 2)
	assert.Equal(t, "2025-03-07", FormatSession(sessions[0]))
	assert.Equal(t, "2025-03-10", FormatSession(sessions[1]))
}

func TestStandardExcludesHoliday(t *testing.T) {
	c, err := NewStandard("test", 14*time.Hour+30*time.Minute, 390, []string{"2025-03-05"})
	require.NoError(t, err)
	sessions := c.SessionsInRange(mustDay(t, "2025-03-03"), mustDay(t, "2025-03-07"))
	require.Len(t, sessions, 4)
	for _, s := range sessions {
		assert.NotEqual(t, "2025-03-05", FormatSession(s))
	}
}

func TestSessionOfWeekday24hOffset(t *testing.T) {
	// 开盘偏移 5 小时：D 日 0~4 点的数据归属 D-1 session。
	c := NewWeekday24h("fx", 5*time.Hour)
	tuesday := mustDay(t, "2025-03-04")
	wednesday := mustDay(t, "2025-03-05")

	early := wednesday + 2*60*60*1000 // 周三 02:00 UTC
	day, ok := c.SessionOf(early)
	require.True(t, ok)
	assert.Equal(t, tuesday, day, "开盘偏移前的时间戳归属前一 session")

	// 恰好在开盘偏移上的时间戳属于新 session；早一分钟属于旧 session。
	atOpen := c.SessionOpen(wednesday)
	day, ok = c.SessionOf(atOpen)
	require.True(t, ok)
	assert.Equal(t, wednesday, day)

	day, ok = c.SessionOf(atOpen - 60*1000)
	require.True(t, ok)
	assert.Equal(t, tuesday, day)
}

func TestSessionOfRejectsNonSession(t *testing.T) {
	c, err := NewStandard("test", 14*time.Hour+30*time.Minute, 390, []string{"2025-03-05"})
	require.NoError(t, err)

	saturday := mustDay(t, "2025-03-08")
	_, ok := c.SessionOf(saturday + 15*60*60*1000)
	assert.False(t, ok)

	holiday := mustDay(t, "2025-03-05")
	_, ok = c.SessionOf(holiday + 15*60*60*1000)
	assert.False(t, ok)
}

func TestValidateRejectsCrossMidnightStandard(t *testing.T) {
	_, err := NewStandard("bad", 23*time.Hour, 390, nil)
	assert.Error(t, err)
}

func TestRegistryResolveAndAlias(t *testing.T) {
	r := Builtin()

	c, err := r.Resolve("xnys")
	require.NoError(t, err)
	assert.Equal(t, 390, c.MinutesPerSession)

	c, err = r.Resolve("NYSE")
	require.NoError(t, err)
	assert.Equal(t, "XNYS", c.Name)

	c, err = r.Resolve("crypto")
	require.NoError(t, err)
	assert.Equal(t, KindAlwaysOpen, c.Kind)

	_, err = r.Resolve("XVIE")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewAlwaysOpen("24/7")))
	err := r.Register(NewAlwaysOpen("24/7"))
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestLoadFileRegistersCalendars(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/calendars.yaml"
	content := `calendars:
  fx_24_5:
    kind: weekday_24h
    open_offset_minutes: 300
    aliases: [fx]
  xtse:
    kind: standard
    open_offset_minutes: 870
    minutes_per_session: 390
    holidays: ["2025-07-01"]
`
	require.NoError(t, writeFile(path, content))

	r := NewRegistry()
	require.NoError(t, LoadFile(r, path))

	c, err := r.Resolve("fx")
	require.NoError(t, err)
	assert.Equal(t, KindWeekday24h, c.Kind)
	assert.Equal(t, 5*time.Hour, c.OpenOffset)

	c, err = r.Resolve("xtse")
	require.NoError(t, err)
	assert.False(t, c.IsSession(mustDay(t, "2025-07-01")))
}

func TestLoadFileRejectsSchemaViolation(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/calendars.yaml"
	content := `calendars:
  broken:
    kind: lunar
`
	require.NoError(t, writeFile(path, content))
	assert.Error(t, LoadFile(NewRegistry(), path))
}
