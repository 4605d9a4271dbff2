package catalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate_MatchedCaseInsensitive(t *testing.T) {
	dets := []Detection{{ClassLabel: "Apple", CenterX: 10, CenterY: 10, Width: 4, Height: 4}}
	entries := []Entry{{Name: "apple", Price: 0.99}}

	total, rows := Aggregate(dets, entries)

	assert.InDelta(t, 0.99, total, 1e-9)
	require.Len(t, rows, 1)
	assert.Equal(t, PriceRow{Label: "Apple", Price: 0.99, Matched: true}, rows[0])
}

func TestAggregate_UnmatchedWithEmptyCatalog(t *testing.T) {
	dets := []Detection{{ClassLabel: "Widget"}}

	total, rows := Aggregate(dets, nil)

	assert.Zero(t, total)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Matched)
	assert.Equal(t, "N/A", rows[0].Display())
}

func TestAggregate_FirstMatchWins(t *testing.T) {
	dets := []Detection{{ClassLabel: "milk"}}
	entries := []Entry{{Name: "Milk", Price: 2.5}, {Name: "MILK", Price: 9}}

	total, rows := Aggregate(dets, entries)

	assert.InDelta(t, 2.5, total, 1e-9)
	assert.InDelta(t, 2.5, rows[0].Price, 1e-9)
}

func TestAggregate_NoSubstringMatch(t *testing.T) {
	dets := []Detection{{ClassLabel: "bell"}}
	entries := []Entry{{Name: "bell-pepper", Price: 1.2}}

	total, rows := Aggregate(dets, entries)

	assert.Zero(t, total)
	assert.False(t, rows[0].Matched)
}

func TestAggregate_DuplicatesCountEach(t *testing.T) {
	dets := []Detection{{ClassLabel: "egg"}, {ClassLabel: "EGG"}, {ClassLabel: "tuna"}}
	entries := []Entry{{Name: "Egg", Price: 0.5}}

	total, rows := Aggregate(dets, entries)

	assert.InDelta(t, 1.0, total, 1e-9)
	assert.Len(t, rows, 3)
	assert.True(t, rows[0].Matched)
	assert.True(t, rows[1].Matched)
	assert.False(t, rows[2].Matched)
}

func TestAggregate_Empty(t *testing.T) {
	total, rows := Aggregate(nil, nil)
	assert.Zero(t, total)
	assert.Empty(t, rows)
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "$12.50", FormatPrice(12.5))
	assert.Equal(t, "$0.00", FormatPrice(0))
}

func TestTopLeft(t *testing.T) {
	x, y := Detection{CenterX: 100, CenterY: 50, Width: 40, Height: 20}.TopLeft()
	assert.Equal(t, 80.0, x)
	assert.Equal(t, 40.0, y)
}

func TestLoadCSV(t *testing.T) {
	entries, err := LoadCSV(strings.NewReader("Category,Name,Price\nfruit,Apple,0.99\ndairy, Milk ,2.35\n"))
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Name: "Apple", Price: 0.99}, {Name: "Milk", Price: 2.35}}, entries)
}

func TestLoadCSV_Errors(t *testing.T) {
	_, err := LoadCSV(strings.NewReader(""))
	assert.Error(t, err)

	_, err = LoadCSV(strings.NewReader("Item,Cost\nApple,1\n"))
	assert.Error(t, err)

	_, err = LoadCSV(strings.NewReader("Name,Price\nApple,free\n"))
	assert.ErrorContains(t, err, "line 2")
}

func TestIndex(t *testing.T) {
	idx := NewIndex([]Entry{{Name: "Lemon", Price: 0.4}, {Name: "lemon", Price: 7}})

	p, ok := idx.Price("LEMON")
	assert.True(t, ok)
	assert.InDelta(t, 0.4, p, 1e-9)

	_, ok = idx.Price("lime")
	assert.False(t, ok)
	assert.Equal(t, 2, idx.Len())
}
