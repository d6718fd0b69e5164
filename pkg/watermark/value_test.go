package watermark

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantKind Kind
		wantTime time.Time
		wantInt  int64
		wantErr  bool
	}{
		{name: "ordinal", input: "943", wantKind: KindOrdinal, wantInt: 943},
		{name: "ordinal with spaces", input: " 1682 ", wantKind: KindOrdinal, wantInt: 1682},
		{name: "space separated timestamp", input: "1998-04-22 23:10:38", wantKind: KindTime, wantTime: time.Date(1998, 4, 22, 23, 10, 38, 0, time.UTC)},
		{name: "fractional timestamp", input: "1998-04-22 23:10:38.5", wantKind: KindTime, wantTime: time.Date(1998, 4, 22, 23, 10, 38, 500000000, time.UTC)},
		{name: "offset timestamp", input: "1998-04-23 01:10:38+02:00", wantKind: KindTime, wantTime: time.Date(1998, 4, 22, 23, 10, 38, 0, time.UTC)},
		{name: "rfc3339", input: "1997-09-28T00:00:00Z", wantKind: KindTime, wantTime: time.Date(1997, 9, 28, 0, 0, 0, 0, time.UTC)},
		{name: "date only", input: "1997-09-28", wantKind: KindTime, wantTime: time.Date(1997, 9, 28, 0, 0, 0, 0, time.UTC)},
		{name: "empty", input: "", wantErr: true},
		{name: "garbage", input: "yesterday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseValue(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidValue)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, v.Kind())

			if tt.wantKind == KindTime {
				assert.True(t, tt.wantTime.Equal(v.Time()), "got %s", v.Time())
				assert.Equal(t, time.UTC, v.Time().Location())
			} else {
				assert.Equal(t, tt.wantInt, v.Int())
			}
		})
	}
}

func TestValueStringRoundTrip(t *testing.T) {
	values := []Value{
		Ordinal(0),
		Ordinal(943),
		Time(time.Date(1998, 4, 22, 23, 10, 38, 0, time.UTC)),
		Time(time.Date(1998, 4, 22, 23, 10, 38, 123456789, time.UTC)),
		Time(time.Date(1998, 4, 23, 1, 10, 38, 0, time.FixedZone("CEST", 2*3600))),
	}

	for _, v := range values {
		parsed, err := ParseValue(v.String())
		require.NoError(t, err)
		assert.True(t, v.Equal(parsed), "%s != %s", v, parsed)
	}

	assert.Equal(t, "1998-04-22 23:10:38", Time(time.Date(1998, 4, 22, 23, 10, 38, 0, time.UTC)).String())
	assert.Equal(t, "943", Ordinal(943).String())
}

func TestValueCompare(t *testing.T) {
	early := Time(time.Date(1997, 9, 1, 0, 0, 0, 0, time.UTC))
	late := Time(time.Date(1997, 10, 1, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, -1, early.Compare(late))
	assert.Equal(t, 1, late.Compare(early))
	assert.Equal(t, 0, early.Compare(early))

	assert.Equal(t, -1, Ordinal(1).Compare(Ordinal(2)))
	assert.Equal(t, 1, Ordinal(3).Compare(Ordinal(2)))
	assert.True(t, Ordinal(2).Equal(Ordinal(2)))

	assert.Equal(t, -1, late.Compare(Ordinal(0)))
	assert.Equal(t, 1, Ordinal(0).Compare(early))
}

func TestValueFloat(t *testing.T) {
	assert.InDelta(t, 875000000.0, Time(time.Unix(875000000, 0)).Float(), 0.0001)
	assert.InDelta(t, 943.0, Ordinal(943).Float(), 0.0001)
}
