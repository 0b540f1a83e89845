package api_test

import (
	"testing"

	"github.com/basicthinker/silo/api"
)

func TestArenaSize(t *testing.T) {
	cases := []struct {
		n       int
		rounded int
		class   int
	}{
		{1, 16, 0},
		{16, 16, 0},
		{17, 32, 1},
		{48, 48, 2},
		{100, 112, 6},
		{api.MaxAllocSize, api.MaxAllocSize, api.MaxArenas - 1},
		{api.MaxAllocSize + 1, api.MaxAllocSize + api.Alignment, api.MaxArenas},
		{0, 16, 0},
	}
	for _, c := range cases {
		rounded, class := api.ArenaSize(c.n)
		if rounded != c.rounded || class != c.class {
			t.Errorf("ArenaSize(%d) = (%d, %d), want (%d, %d)",
				c.n, rounded, class, c.rounded, c.class)
		}
	}
}

func TestDisposeFunc(t *testing.T) {
	ran := 0
	var d api.Disposable = api.DisposeFunc(func() { ran++ })
	d.Dispose()
	if ran != 1 {
		t.Fatalf("ran = %d, want 1", ran)
	}
}
