package bbox

import (
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForPointSingleCell(t *testing.T) {
	tests := []struct {
		name     string
		lon, lat float64
		want     Rect
	}{
		{name: "fractional", lon: 1.5, lat: 1.5, want: Rect{1, 1, 1, 1}},
		{name: "on integer boundary", lon: 2.0, lat: 2.0, want: Rect{1, 1, 1, 1}},
		{name: "negative fractional", lon: -0.5, lat: -0.25, want: Rect{-1, -1, -1, -1}},
		{name: "origin", lon: 0, lat: 0, want: Rect{-1, -1, -1, -1}},
		{name: "west date line uses padding column", lon: -180, lat: 10.5, want: Rect{-181, 10, -181, 10}},
		{name: "east date line", lon: 180, lat: 10.5, want: Rect{179, 10, 179, 10}},
		{name: "north pole", lon: 0.5, lat: 90, want: Rect{0, 89, 0, 89}},
		{name: "south pole clamps", lon: 0.5, lat: -90, want: Rect{0, -90, 0, -90}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ForPoint(tt.lon, tt.lat).Decode()
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, 1, got.Cells())
		})
	}
}

func TestForPointRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10000; i++ {
		lon := rng.Float64()*360 - 180
		lat := rng.Float64()*180 - 90
		r, ok := ForPoint(lon, lat).Decode()
		if !ok {
			t.Fatalf("ForPoint(%v, %v) decoded as empty", lon, lat)
		}
		if r.Cells() != 1 {
			t.Fatalf("ForPoint(%v, %v) = %+v, want one cell", lon, lat, r)
		}
		if !r.Bound().Contains(orb.Point{lon, lat}) {
			t.Fatalf("tile %+v does not hold point (%v, %v)", r, lon, lat)
		}
	}
}

func TestForOrbPoint(t *testing.T) {
	assert.Equal(t, ForPoint(13.4, 52.5), ForOrbPoint(orb.Point{13.4, 52.5}))
}

func TestEmpty(t *testing.T) {
	_, ok := Empty.Decode()
	assert.False(t, ok)
	assert.True(t, Empty.IsEmpty())
	assert.Equal(t, "empty", Empty.String())

	// The largest real encoding stays clear of the sentinel.
	assert.NotEqual(t, Empty, Make(MaxLon, MaxLat, MaxLon, MaxLat))
}

func TestMakeClamps(t *testing.T) {
	tests := []struct {
		name       string
		w, s, e, n int
		want       Rect
	}{
		{name: "in range", w: -10, s: -5, e: 10, n: 5, want: Rect{-10, -5, 10, 5}},
		{name: "far west and south", w: -500, s: -500, e: 0, n: 0, want: Rect{-181, -90, 0, 0}},
		{name: "far east and north", w: 0, s: 0, e: 500, n: 500, want: Rect{0, 0, 180, 90}},
		{name: "extremes", w: MinLon, s: MinLat, e: MaxLon, n: MaxLat, want: Rect{-181, -90, 180, 90}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Make(tt.w, tt.s, tt.e, tt.n)
			got, ok := b.Decode()
			require.True(t, ok)
			assert.Equal(t, tt.want, got)

			again, ok := Make(got.West, got.South, got.East, got.North).Decode()
			require.True(t, ok)
			assert.Equal(t, got, again, "second encode/decode must be idempotent")
		})
	}
}

func TestMakeRoundTripWithinRange(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 10000; i++ {
		w := rng.Intn(1000) - 500
		s := rng.Intn(400) - 200
		e := rng.Intn(1000) - 500
		n := rng.Intn(400) - 200
		r, ok := Make(w, s, e, n).Decode()
		require.True(t, ok)
		for _, lon := range []int{r.West, r.East} {
			if lon < -181 || lon > 181 {
				t.Fatalf("Make(%d,%d,%d,%d) decoded lon %d out of range", w, s, e, n, lon)
			}
		}
		for _, lat := range []int{r.South, r.North} {
			if lat < -90 || lat > 90 {
				t.Fatalf("Make(%d,%d,%d,%d) decoded lat %d out of range", w, s, e, n, lat)
			}
		}
	}
}

func randomBBox(rng *rand.Rand) BBox {
	if rng.Intn(5) == 0 {
		return Empty
	}
	w := rng.Intn(362) - 181
	s := rng.Intn(181) - 90
	return Make(w, s, w+rng.Intn(20), s+rng.Intn(20))
}

func TestUnionLaws(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 5000; i++ {
		a, b, c := randomBBox(rng), randomBBox(rng), randomBBox(rng)
		if Union(a, Empty) != a {
			t.Fatalf("Union(%v, Empty) = %v", a, Union(a, Empty))
		}
		if Union(Empty, a) != a {
			t.Fatalf("Union(Empty, %v) = %v", a, Union(Empty, a))
		}
		if Union(a, b) != Union(b, a) {
			t.Fatalf("Union not commutative for %v, %v", a, b)
		}
		if Union(Union(a, b), c) != Union(a, Union(b, c)) {
			t.Fatalf("Union not associative for %v, %v, %v", a, b, c)
		}
	}
	assert.Equal(t, Empty, Union(Empty, Empty))
}

func TestUnionCovers(t *testing.T) {
	a := ForPoint(0.5, 0.5)
	b := ForPoint(1.5, 0.5)
	r, ok := Union(a, b).Decode()
	require.True(t, ok)
	assert.Equal(t, Rect{West: 0, South: 0, East: 1, North: 0}, r)
	assert.True(t, r.Contains(0, 0))
	assert.True(t, r.Contains(1, 0))
	assert.False(t, r.Contains(2, 0))
	assert.Equal(t, "[0,0..1,0]", Union(a, b).String())
}

func TestRectBound(t *testing.T) {
	r := Rect{West: -2, South: 3, East: 0, North: 4}
	assert.Equal(t, orb.Bound{Min: orb.Point{-2, 3}, Max: orb.Point{1, 5}}, r.Bound())
	assert.Equal(t, 6, r.Cells())
}
