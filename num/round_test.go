package num

import "testing"

func TestFloor(t *testing.T) {
	tests := []struct {
		v      float64
		places int32
		want   float64
	}{
		{1.23456, 2, 1.23},
		{1.23999, 2, 1.23},
		{1.2, 2, 1.2},
		{0.0009, 3, 0.0},
		{99.999999, 4, 99.9999},
	}
	for _, tt := range tests {
		if got := Floor(tt.v, tt.places); got != tt.want {
			t.Errorf("Floor(%v, %d) = %v, want %v", tt.v, tt.places, got, tt.want)
		}
	}
}

func TestCeil(t *testing.T) {
	tests := []struct {
		v      float64
		places int32
		want   float64
	}{
		{1.23001, 2, 1.24},
		{1.23, 2, 1.23},
		{0.0001, 3, 0.001},
		{99.99991, 4, 100.0},
	}
	for _, tt := range tests {
		if got := Ceil(tt.v, tt.places); got != tt.want {
			t.Errorf("Ceil(%v, %d) = %v, want %v", tt.v, tt.places, got, tt.want)
		}
	}
}
