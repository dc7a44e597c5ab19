package codec

import (
	"errors"
	"fmt"
	"strings"
)

// BatteryMode selects how the battery byte maps to a percentage.
type BatteryMode string

const (
	// BatteryPercent treats the byte as a direct 0-100 percentage.
	BatteryPercent BatteryMode = "percent"
	// BatteryRaw255 rescales a 0-255 value linearly to 0-100.
	BatteryRaw255 BatteryMode = "raw255"
)

// Layout describes one fixed-width frame generation.
// Frame: volume (big-endian unsigned, VolumeBytes wide) | battery (1 byte) | flags (1 byte).
type Layout struct {
	Name         string
	VolumeBytes  int
	ScaleDivisor float64
	BatteryMode  BatteryMode
}

// Known frame generations.
var (
	LayoutV1 = Layout{Name: "v1", VolumeBytes: 2, ScaleDivisor: 100, BatteryMode: BatteryPercent}
	LayoutV2 = Layout{Name: "v2", VolumeBytes: 4, ScaleDivisor: 1000, BatteryMode: BatteryRaw255}
)

// ErrUnknownLayout is returned when a layout name is not registered.
var ErrUnknownLayout = errors.New("codec: unknown layout")

// MinLength is the shortest frame this layout can decode.
func (l Layout) MinLength() int {
	return l.VolumeBytes + 2
}

// Validate checks the layout is usable.
func (l Layout) Validate() error {
	if strings.TrimSpace(l.Name) == "" {
		return errors.New("codec: layout name required")
	}
	if l.VolumeBytes != 2 && l.VolumeBytes != 4 {
		return fmt.Errorf("codec: layout %s: volume width must be 2 or 4 bytes, got %d", l.Name, l.VolumeBytes)
	}
	if l.ScaleDivisor <= 0 {
		return fmt.Errorf("codec: layout %s: scale divisor must be positive", l.Name)
	}
	switch l.BatteryMode {
	case BatteryPercent, BatteryRaw255:
	default:
		return fmt.Errorf("codec: layout %s: unsupported battery mode %q", l.Name, l.BatteryMode)
	}
	return nil
}

// KnownLayout returns a built-in layout by name.
func KnownLayout(name string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case LayoutV1.Name:
		return LayoutV1, nil
	case LayoutV2.Name:
		return LayoutV2, nil
	}
	return Layout{}, fmt.Errorf("%w: %q", ErrUnknownLayout, name)
}
