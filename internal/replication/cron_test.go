package replication

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 */2 * * *", false},
		{"*/15 * * * *", false},
		{"30 3 * * 1-5", false},
		{"0 0 1 JAN *", false},
		{"  0 4 * * *  ", false},
		{"", true},
		{"   ", true},
		{"0 0 */2 * * *", true}, // seconds field
		{"@daily", true},
		{"61 * * * *", true},
		{"* * *", true},
		{"not a cron", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := ParseCron(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNextFireTime(t *testing.T) {
	utc := func(y int, mo time.Month, d, h, mi, s int) time.Time {
		return time.Date(y, mo, d, h, mi, s, 0, time.UTC)
	}

	tests := []struct {
		name   string
		expr   string
		from   time.Time
		want   time.Time
		wantOK bool
	}{
		{
			name:   "every two hours",
			expr:   "0 */2 * * *",
			from:   utc(2024, 5, 1, 10, 30, 0),
			want:   utc(2024, 5, 1, 12, 0, 0),
			wantOK: true,
		},
		{
			name:   "strictly after a matching instant",
			expr:   "0 */2 * * *",
			from:   utc(2024, 5, 1, 12, 0, 0),
			want:   utc(2024, 5, 1, 14, 0, 0),
			wantOK: true,
		},
		{
			name:   "sub-minute reference rounds up",
			expr:   "*/15 * * * *",
			from:   utc(2024, 5, 1, 10, 7, 30),
			want:   utc(2024, 5, 1, 10, 15, 0),
			wantOK: true,
		},
		{
			name:   "day of month or day of week",
			expr:   "0 0 13 * 5",
			from:   utc(2024, 9, 1, 0, 0, 0), // a Sunday
			want:   utc(2024, 9, 6, 0, 0, 0), // the following Friday
			wantOK: true,
		},
		{
			name:   "rolls over the year",
			expr:   "0 0 1 1 *",
			from:   utc(2024, 12, 31, 23, 59, 0),
			want:   utc(2025, 1, 1, 0, 0, 0),
			wantOK: true,
		},
		{
			name:   "never matches",
			expr:   "0 0 30 2 *",
			from:   utc(2024, 1, 1, 0, 0, 0),
			wantOK: false,
		},
		{
			name:   "unparsable",
			expr:   "every tuesday",
			from:   utc(2024, 1, 1, 0, 0, 0),
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NextFireTime(tt.expr, tt.from)
			require.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				assert.True(t, got.IsZero())
				return
			}
			assert.True(t, tt.want.Equal(got), "want %v, got %v", tt.want, got)
			assert.True(t, got.After(tt.from))
		})
	}
}

func TestNextFireTime_UsesReferenceLocation(t *testing.T) {
	plusTwo := time.FixedZone("UTC+2", 2*60*60)
	from := time.Date(2024, 5, 1, 10, 0, 0, 0, plusTwo)

	got, ok := NextFireTime("0 9 * * *", from)
	require.True(t, ok)
	assert.True(t, time.Date(2024, 5, 2, 9, 0, 0, 0, plusTwo).Equal(got), "got %v", got)

	got, ok = NextFireTime("0 9 * * *", from.UTC())
	require.True(t, ok)
	assert.True(t, time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC).Equal(got), "got %v", got)
}
