package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCronExpr(t *testing.T) {
	assert.NoError(t, ValidateCronExpr("0 9 * * *"))
	assert.Error(t, ValidateCronExpr("not a cron"))
}

func TestCronMatches_Wildcard(t *testing.T) {
	now := time.Date(2026, 8, 6, 9, 0, 0, 0, time.UTC)
	ok, err := CronMatches("* * * * *", now, "UTC")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCronMatches_ExactMinuteHour(t *testing.T) {
	now := time.Date(2026, 8, 6, 9, 30, 0, 0, time.UTC)
	ok, err := CronMatches("30 9 * * *", now, "UTC")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CronMatches("31 9 * * *", now, "UTC")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCronMatches_StepInterval(t *testing.T) {
	now := time.Date(2026, 8, 6, 9, 15, 0, 0, time.UTC)
	ok, err := CronMatches("*/15 * * * *", now, "UTC")
	require.NoError(t, err)
	assert.True(t, ok)

	now2 := time.Date(2026, 8, 6, 9, 16, 0, 0, time.UTC)
	ok, err = CronMatches("*/15 * * * *", now2, "UTC")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCronMatches_CommaListAndRange(t *testing.T) {
	now := time.Date(2026, 8, 6, 14, 0, 0, 0, time.UTC)
	ok, err := CronMatches("0 9,14,18 * * *", now, "UTC")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CronMatches("0 9-18 * * *", now, "UTC")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CronMatches("0 19-23 * * *", now, "UTC")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCronMatches_RespectsTriggerTimezone(t *testing.T) {
	// 13:00 UTC is 9:00 in America/New_York during EDT (UTC-4).
	now := time.Date(2026, 8, 6, 13, 0, 0, 0, time.UTC)
	ok, err := CronMatches("0 9 * * *", now, "America/New_York")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CronMatches("0 9 * * *", now, "UTC")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCronMatches_RejectsMalformedExpression(t *testing.T) {
	_, err := CronMatches("* * *", time.Now(), "UTC")
	assert.Error(t, err)
}
