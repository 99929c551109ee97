package amount

import (
	"errors"
	"testing"
)

func TestFromBTC(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr error
	}{
		{"1", 100_000_000, nil},
		{"0.3", 30_000_000, nil},
		{"0.30000000", 30_000_000, nil},
		{"0.00000001", 1, nil},
		{"0", 0, nil},
		{"21000000", 2_100_000_000_000_000, nil},
		{"-0.1", 0, ErrNegativeAmount},
		{"0.000000001", 0, ErrInvalidAmount},
		{"abc", 0, ErrInvalidAmount},
		{"", 0, ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := FromBTC(tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("FromBTC(%q) err = %v, want %v", tt.in, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FromBTC(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("FromBTC(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestToBTC(t *testing.T) {
	tests := []struct {
		sats int64
		want string
	}{
		{100_000_000, "1.00000000"},
		{30_000_000, "0.30000000"},
		{1, "0.00000001"},
		{0, "0.00000000"},
		{150_000_000, "1.50000000"},
	}

	for _, tt := range tests {
		if got := ToBTC(tt.sats); got != tt.want {
			t.Errorf("ToBTC(%d) = %q, want %q", tt.sats, got, tt.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, sats := range []int64{0, 1, 546, 30_000_000, 100_000_000, 2_100_000_000_000_000} {
		got, err := FromBTC(ToBTC(sats))
		if err != nil {
			t.Fatalf("round trip %d: %v", sats, err)
		}
		if got != sats {
			t.Errorf("round trip %d came back as %d", sats, got)
		}
	}
}

func TestMustFromBTCPanicsOnBadInput(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	MustFromBTC("not a number")
}
