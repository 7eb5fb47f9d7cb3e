package bridge

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSearchBufferSize(t *testing.T) {
	tests := []struct {
		name      string
		min       int
		target    int
		accept    func(int) bool
		wantSize  int
		wantOK    bool
		wantTries []int
	}{
		{
			name:      "min already covers target",
			min:       4096,
			target:    1024,
			accept:    func(int) bool { return true },
			wantSize:  4096,
			wantOK:    true,
			wantTries: []int{4096},
		},
		{
			name:      "doubles up to target",
			min:       1000,
			target:    4096,
			accept:    func(int) bool { return true },
			wantSize:  8000,
			wantOK:    true,
			wantTries: []int{8000},
		},
		{
			name:      "exact power of two target",
			min:       1024,
			target:    4096,
			accept:    func(int) bool { return true },
			wantSize:  4096,
			wantOK:    true,
			wantTries: []int{4096},
		},
		{
			name:      "halves until accepted",
			min:       1024,
			target:    8192,
			accept:    func(n int) bool { return n <= 2048 },
			wantSize:  2048,
			wantOK:    true,
			wantTries: []int{8192, 4096, 2048},
		},
		{
			name:      "halves below the minimum",
			min:       12,
			target:    40,
			accept:    func(n int) bool { return n == 6 },
			wantSize:  6,
			wantOK:    true,
			wantTries: []int{48, 24, 12, 6},
		},
		{
			name:      "exhausted",
			min:       4,
			target:    16,
			accept:    func(int) bool { return false },
			wantOK:    false,
			wantTries: []int{16, 8, 4, 2, 1},
		},
		{
			name:      "zero minimum",
			min:       0,
			target:    16,
			accept:    func(int) bool { return true },
			wantOK:    false,
			wantTries: nil,
		},
		{
			name:      "negative minimum is a device error code",
			min:       -2,
			target:    16,
			accept:    func(int) bool { return true },
			wantOK:    false,
			wantTries: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tries []int
			size, ok := SearchBufferSize(tt.min, tt.target, func(n int) bool {
				tries = append(tries, n)
				return tt.accept(n)
			})
			if ok != tt.wantOK || size != tt.wantSize {
				t.Errorf("SearchBufferSize = (%d, %v), want (%d, %v)", size, ok, tt.wantSize, tt.wantOK)
			}
			if diff := cmp.Diff(tt.wantTries, tries); diff != "" {
				t.Errorf("attempts mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// Every accepted size must lie on the doubling-then-halving path and stay
// within [1, doubled target].
func TestSearchBufferSizeReachable(t *testing.T) {
	for min := 1; min <= 70; min += 3 {
		for target := 0; target <= 300; target += 7 {
			for cutoff := 0; cutoff <= 600; cutoff += 50 {
				size, ok := SearchBufferSize(min, target, func(n int) bool { return n <= cutoff })

				top := min
				for top < target {
					top *= 2
				}
				if !ok {
					if cutoff >= 1 {
						t.Fatalf("min=%d target=%d cutoff=%d: search exhausted", min, target, cutoff)
					}
					continue
				}
				if size < 1 || size > top {
					t.Fatalf("min=%d target=%d: size %d outside [1, %d]", min, target, size, top)
				}
				reachable := false
				for c := top; c > 0; c /= 2 {
					if c == size {
						reachable = true
						break
					}
				}
				if !reachable {
					t.Fatalf("min=%d target=%d: size %d not on search path from %d", min, target, size, top)
				}
				if top > 1 && top >= 2*target && target > min {
					t.Fatalf("min=%d target=%d: candidate %d overshot", min, target, top)
				}
			}
		}
	}
}

func TestSearchBufferSizeDoesNotOverflow(t *testing.T) {
	size, ok := SearchBufferSize(3, math.MaxInt, func(n int) bool { return n > 0 })
	if !ok || size <= 0 {
		t.Fatalf("SearchBufferSize = (%d, %v)", size, ok)
	}
}
