// Package sample defines the temperature sample produced by the simulated
// sensor and its fixed 16-byte binary record layout.
package sample

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Size is the length of one encoded record:
//
//	timestamp_ns u64 | temp_mC s32 | flags u32
//
// little-endian, no padding.
const Size = 16

// Flags is the per-sample status bitset.
type Flags uint32

// Flag bits as laid out in the record.
const (
	FlagNew              Flags = 1 << 0
	FlagThresholdCrossed Flags = 1 << 1
)

// Has reports whether all bits in f2 are set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

func (f Flags) String() string {
	switch {
	case f.Has(FlagNew | FlagThresholdCrossed):
		return "new|crossed"
	case f.Has(FlagThresholdCrossed):
		return "crossed"
	case f.Has(FlagNew):
		return "new"
	case f == 0:
		return "-"
	default:
		return fmt.Sprintf("0x%x", uint32(f))
	}
}

// ErrRecordSize is returned when a buffer does not hold whole records.
var ErrRecordSize = errors.New("sample: invalid record size")

// Sample is one timestamped temperature reading.
type Sample struct {
	Timestamp uint64 // monotonic nanoseconds
	TempMC    int32  // milli-degrees Celsius (44123 = 44.123 °C)
	Flags     Flags
}

// Celsius returns the temperature in degrees Celsius.
func (s Sample) Celsius() float64 {
	return float64(s.TempMC) / 1000
}

// Crossed reports whether the sample carries the threshold-crossed flag.
func (s Sample) Crossed() bool {
	return s.Flags.Has(FlagThresholdCrossed)
}

// AppendBinary appends the 16-byte record to b.
func (s Sample) AppendBinary(b []byte) ([]byte, error) {
	b = binary.LittleEndian.AppendUint64(b, s.Timestamp)
	b = binary.LittleEndian.AppendUint32(b, uint32(s.TempMC))
	b = binary.LittleEndian.AppendUint32(b, uint32(s.Flags))
	return b, nil
}

// MarshalBinary encodes the sample as a 16-byte record.
func (s Sample) MarshalBinary() ([]byte, error) {
	return s.AppendBinary(make([]byte, 0, Size))
}

// UnmarshalBinary decodes exactly one record.
func (s *Sample) UnmarshalBinary(data []byte) error {
	if len(data) != Size {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrRecordSize, len(data), Size)
	}
	s.Timestamp = binary.LittleEndian.Uint64(data[0:8])
	s.TempMC = int32(binary.LittleEndian.Uint32(data[8:12]))
	s.Flags = Flags(binary.LittleEndian.Uint32(data[12:16]))
	return nil
}

// DecodeAll decodes back-to-back records. The buffer length must be a
// multiple of Size.
func DecodeAll(data []byte) ([]Sample, error) {
	if len(data)%Size != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrRecordSize, len(data), Size)
	}
	out := make([]Sample, len(data)/Size)
	for i := range out {
		if err := out[i].UnmarshalBinary(data[i*Size : (i+1)*Size]); err != nil {
			return nil, err
		}
	}
	return out, nil
}
