package actions_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basket/asis/internal/actions"
)

func TestDecodePayload(t *testing.T) {
	for _, raw := range []string{"", "  ", "null"} {
		p, err := actions.DecodePayload([]byte(raw))
		require.NoError(t, err, raw)
		assert.Equal(t, actions.Single, p.Mode())
		assert.Equal(t, 1, p.Len())
	}

	p, err := actions.DecodePayload([]byte(`[{"name":"a"},{"name":"b"}]`))
	require.NoError(t, err)
	assert.Equal(t, actions.Batch, p.Mode())
	assert.Equal(t, 2, p.Len())
	assert.Equal(t, "a", p.Args().Text("name"))

	_, err = actions.DecodePayload([]byte(`42`))
	assert.Error(t, err)
}

func TestArgs_Coercions(t *testing.T) {
	p, err := actions.DecodePayload([]byte(`{"id":"12","n":3,"price":"2,5","flag":"da","neg":-1,"frac":1.5,"blank":"  ","title":"x"}`))
	require.NoError(t, err)
	a := p.Args()

	assert.Equal(t, int64(12), a.ID("id"))
	assert.Equal(t, int64(3), a.ID("missing", "n"))
	assert.Zero(t, a.ID("neg"))
	assert.Zero(t, a.ID("frac"))
	f, ok := a.Float("price")
	assert.True(t, ok)
	assert.Equal(t, 2.5, f)
	assert.Equal(t, 7, a.Int("missing", 7))
	assert.True(t, a.Bool("flag"))
	assert.False(t, a.Bool("missing"))
	assert.Equal(t, "3", a.Text("n"))
	assert.Equal(t, "x", a.Text("blank", "title"))
}

func TestParseTime(t *testing.T) {
	loc := time.FixedZone("EET", 2*60*60)
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2026-03-05T14:30:00Z", time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)},
		{"2026-03-05T14:30:00+03:00", time.Date(2026, 3, 5, 11, 30, 0, 0, time.UTC)},
		{"2026-03-05T14:30", time.Date(2026, 3, 5, 14, 30, 0, 0, loc)},
		{"2026-03-05 14:30", time.Date(2026, 3, 5, 14, 30, 0, 0, loc)},
		{"2026-03-05", time.Date(2026, 3, 5, 0, 0, 0, 0, loc)},
		{"5.3.2026 14:30", time.Date(2026, 3, 5, 14, 30, 0, 0, loc)},
		{"05/03/2026", time.Date(2026, 3, 5, 0, 0, 0, 0, loc)},
	}
	for _, tc := range cases {
		got, err := actions.ParseTime(tc.in, loc)
		require.NoError(t, err, tc.in)
		assert.True(t, tc.want.Equal(got), "%s: got %s", tc.in, got)
	}

	_, err := actions.ParseTime("poimâine", loc)
	assert.Error(t, err)
	_, err = actions.ParseTime("", loc)
	assert.Error(t, err)
}

func TestParseIntent(t *testing.T) {
	in, ok := actions.ParseIntent("add_shopping_item")
	require.True(t, ok)
	assert.True(t, in.Batchable())

	in, ok = actions.ParseIntent("send_email")
	require.True(t, ok)
	assert.False(t, in.Batchable())

	_, ok = actions.ParseIntent("nope")
	assert.False(t, ok)
	assert.Len(t, actions.Intents(), 17)
}
