package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultWindows(t *testing.T) {
	now := time.Date(2026, time.January, 15, 10, 0, 0, 0, time.UTC)

	windows := defaultWindows(now)
	require.Len(t, windows, 2)

	require.Equal(t, "12/15/2025", windows[0].Start)
	require.Equal(t, "01/15/2026", windows[0].End)
	require.Equal(t, "01/15/2026", windows[1].Start)
	require.Equal(t, "02/15/2026", windows[1].End)
}

func TestDefaultWindowsMonthEndNormalization(t *testing.T) {
	// AddDate normalizes Jan 31 minus a month to Dec 31 and plus a month
	// to Mar 3 (Feb 31 rolled forward).
	now := time.Date(2026, time.January, 31, 0, 0, 0, 0, time.UTC)

	windows := defaultWindows(now)
	require.Equal(t, "12/31/2025", windows[0].Start)
	require.Equal(t, "03/03/2026", windows[1].End)

	for _, w := range windows {
		_, err := time.Parse(dateLayout, w.Start)
		require.NoError(t, err)
		_, err = time.Parse(dateLayout, w.End)
		require.NoError(t, err)
	}
}
