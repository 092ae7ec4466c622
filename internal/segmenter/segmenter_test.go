package segmenter

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/zzenonn/zfetch/internal/domain"
	ferrors "github.com/zzenonn/zfetch/internal/errors"
)

var defaultLimits = Limits{MaxDataBlocksPerSegment: 256, MaxCheckBlocksPerSegment: 256}

func onion(bps, cbps int) Params {
	return Params{Type: domain.OnionStandard, BlocksPerSegment: bps, CheckBlocksPerSegment: cbps}
}

func TestPlan_SegmentSizes(t *testing.T) {
	layout, err := Plan(300, 300, onion(128, 128), defaultLimits)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(layout.Segments) != 3 {
		t.Fatalf("segment count = %d, want 3", len(layout.Segments))
	}
	want := []int{128, 128, 44}
	for i, s := range layout.Segments {
		if s.Data.Len() != want[i] {
			t.Errorf("segment %d data len = %d, want %d", i, s.Data.Len(), want[i])
		}
		if s.Check.Len() != want[i] {
			t.Errorf("segment %d check len = %d, want %d", i, s.Check.Len(), want[i])
		}
	}
}

func TestPlan_EveryKeyOnce(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for iter := 0; iter < 500; iter++ {
		bps := 1 + rng.Intn(200)
		cbps := rng.Intn(200)
		data := 1 + rng.Intn(2000)
		segs := (data + bps - 1) / bps
		if bps == 128 && cbps == 64 {
			continue
		}
		// A consistent manifest fills every segment's check blocks but the last.
		check := 0
		if cbps > 0 {
			check = (segs-1)*cbps + rng.Intn(cbps+1)
		}

		layout, err := Plan(data, check, onion(bps, cbps), defaultLimits)
		if err != nil {
			t.Fatalf("Plan(%d, %d, %d, %d) error = %v", data, check, bps, cbps, err)
		}

		nextData, nextCheck := 0, 0
		for i, s := range layout.Segments {
			if s.Data.Start != nextData || s.Check.Start != nextCheck {
				t.Fatalf("segment %d not contiguous: %+v (want data start %d, check start %d)",
					i, s, nextData, nextCheck)
			}
			nextData = s.Data.End
			nextCheck = s.Check.End
		}
		if nextData != data || nextCheck != check {
			t.Fatalf("keys not fully assigned: data %d/%d check %d/%d", nextData, data, nextCheck, check)
		}
	}
}

func TestPlan_LegacyCheckBlocksWorkaround(t *testing.T) {
	// Two segments of 128 data blocks, inserted as (128, 127) but recorded as (128, 64).
	data := 256
	check := data - data/128

	layout, err := Plan(data, check, onion(128, 64), defaultLimits)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if layout.CheckBlocksPerSegment != 127 {
		t.Fatalf("CheckBlocksPerSegment = %d, want 127", layout.CheckBlocksPerSegment)
	}
	for i, s := range layout.Segments {
		if s.Check.Len() != 127 {
			t.Errorf("segment %d check len = %d, want 127", i, s.Check.Len())
		}
	}

	// Without the matching check count the recorded 64 stands and allocation fails.
	_, err = Plan(data, check-1, onion(128, 64), defaultLimits)
	if !errors.Is(err, ferrors.ErrInvalidMetadata) {
		t.Fatalf("Plan() error = %v, want invalid metadata", err)
	}
}

func TestPlan_Errors(t *testing.T) {
	tests := []struct {
		name   string
		data   int
		check  int
		params Params
		limits Limits
		want   error
	}{
		{
			name:   "too many data blocks per segment",
			data:   10,
			params: onion(512, 0),
			limits: defaultLimits,
			want:   ferrors.ErrTooManyBlocksPerSegment,
		},
		{
			name:   "too many check blocks per segment",
			data:   10,
			params: onion(128, 300),
			limits: defaultLimits,
			want:   ferrors.ErrTooManyBlocksPerSegment,
		},
		{
			name:   "unassigned check blocks",
			data:   10,
			check:  50,
			params: onion(128, 10),
			limits: defaultLimits,
			want:   ferrors.ErrInvalidMetadata,
		},
		{
			name:   "nonredundant with check blocks",
			data:   10,
			check:  1,
			params: Params{Type: domain.Nonredundant},
			limits: defaultLimits,
			want:   ferrors.ErrInvalidMetadata,
		},
		{
			name:   "unknown type",
			data:   10,
			params: Params{Type: 7},
			limits: defaultLimits,
			want:   ferrors.ErrInvalidMetadata,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Plan(tt.data, tt.check, tt.params, tt.limits)
			if !errors.Is(err, tt.want) {
				t.Errorf("Plan() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPlan_Nonredundant(t *testing.T) {
	layout, err := Plan(42, 0, Params{Type: domain.Nonredundant}, defaultLimits)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(layout.Segments) != 1 || layout.Segments[0].Data.Len() != 42 {
		t.Fatalf("layout = %+v, want one segment of 42 data blocks", layout)
	}
	if layout.BlocksPerSegment != Unsegmented {
		t.Errorf("BlocksPerSegment = %d, want %d", layout.BlocksPerSegment, Unsegmented)
	}
}

func TestParseParams(t *testing.T) {
	p, err := ParseParams(domain.OnionStandard, EncodeParams(128, 127))
	if err != nil {
		t.Fatalf("ParseParams() error = %v", err)
	}
	if p.BlocksPerSegment != 128 || p.CheckBlocksPerSegment != 127 {
		t.Errorf("ParseParams() = %+v, want 128/127", p)
	}

	if _, err := ParseParams(domain.OnionStandard, []byte{0, 0, 0}); !errors.Is(err, ferrors.ErrInvalidMetadata) {
		t.Errorf("ParseParams(short) error = %v, want invalid metadata", err)
	}
}
