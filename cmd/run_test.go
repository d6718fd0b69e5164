package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveInterval(t *testing.T) {
	tests := []struct {
		name      string
		start     string
		end       string
		logical   string
		wantStart time.Time
		wantEnd   time.Time
		wantErr   error
		errText   string
	}{
		{
			name:      "explicit interval",
			start:     "1997-09-21T00:00:00Z",
			end:       "1997-09-28T00:00:00Z",
			wantStart: time.Date(1997, 9, 21, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(1997, 9, 28, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "weekly logical date",
			logical:   "1997-09-28T00:00:00Z",
			wantStart: time.Date(1997, 9, 28, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(1997, 10, 5, 0, 0, 0, 0, time.UTC),
		},
		{
			name:    "nothing given",
			wantErr: ErrIntervalRequired,
		},
		{
			name:    "bad start",
			start:   "yesterday",
			end:     "1997-09-28T00:00:00Z",
			errText: "invalid --start",
		},
		{
			name:    "bad logical date",
			logical: "1997-09-28",
			errText: "invalid --logical-date",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := resolveInterval("@weekly", tt.start, tt.end, tt.logical)

			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			case tt.errText != "":
				require.ErrorContains(t, err, tt.errText)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.wantStart, start.UTC())
				assert.Equal(t, tt.wantEnd, end.UTC())
			}
		})
	}
}
