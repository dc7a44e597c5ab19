package codec

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Decode errors.
var (
	ErrTruncated = errors.New("codec: frame truncated")
	ErrMalformed = errors.New("codec: malformed payload encoding")
)

const (
	flagLeak   byte = 1 << 0
	flagTamper byte = 1 << 1
)

// Encoding is the text encoding the transport uses for frames.
type Encoding string

const (
	EncodingHex    Encoding = "hex"
	EncodingBase64 Encoding = "base64"
)

// Fields are the values carried by one frame.
type Fields struct {
	VolumeM3       float64
	BatteryPercent float64
	Leak           bool
	Tamper         bool

	RawVolume  uint32
	RawBattery uint8
	Flags      byte
}

// Decode parses a raw frame. Bytes past the layout's minimum length are ignored.
// Battery values outside 0-100 are passed through as-is.
func Decode(layout Layout, raw []byte) (Fields, error) {
	if len(raw) < layout.MinLength() {
		return Fields{}, fmt.Errorf("%w: got %d bytes, layout %s needs %d", ErrTruncated, len(raw), layout.Name, layout.MinLength())
	}

	var volume uint32
	switch layout.VolumeBytes {
	case 2:
		volume = uint32(binary.BigEndian.Uint16(raw[0:2]))
	case 4:
		volume = binary.BigEndian.Uint32(raw[0:4])
	default:
		return Fields{}, fmt.Errorf("codec: layout %s: unsupported volume width %d", layout.Name, layout.VolumeBytes)
	}

	battery := raw[layout.VolumeBytes]
	flags := raw[layout.VolumeBytes+1]

	return Fields{
		VolumeM3:       float64(volume) / layout.ScaleDivisor,
		BatteryPercent: batteryPercent(layout.BatteryMode, battery),
		Leak:           flags&flagLeak != 0,
		Tamper:         flags&flagTamper != 0,
		RawVolume:      volume,
		RawBattery:     battery,
		Flags:          flags,
	}, nil
}

// Encode builds the minimum-length frame for fields. Reserved flag bits are
// taken from fields.Flags.
func Encode(layout Layout, fields Fields) ([]byte, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if fields.VolumeM3 < 0 {
		return nil, fmt.Errorf("codec: negative volume %v", fields.VolumeM3)
	}

	raw := math.Round(fields.VolumeM3 * layout.ScaleDivisor)
	limit := float64(math.MaxUint16)
	if layout.VolumeBytes == 4 {
		limit = float64(math.MaxUint32)
	}
	if raw > limit {
		return nil, fmt.Errorf("codec: volume %v overflows %d-byte field", fields.VolumeM3, layout.VolumeBytes)
	}

	out := make([]byte, layout.MinLength())
	if layout.VolumeBytes == 2 {
		binary.BigEndian.PutUint16(out[0:2], uint16(raw))
	} else {
		binary.BigEndian.PutUint32(out[0:4], uint32(raw))
	}

	battery, err := batteryByte(layout.BatteryMode, fields.BatteryPercent)
	if err != nil {
		return nil, err
	}
	out[layout.VolumeBytes] = battery

	flags := fields.Flags &^ (flagLeak | flagTamper)
	if fields.Leak {
		flags |= flagLeak
	}
	if fields.Tamper {
		flags |= flagTamper
	}
	out[layout.VolumeBytes+1] = flags
	return out, nil
}

// DecodeText converts a transport-encoded payload into raw frame bytes.
func DecodeText(encoding Encoding, payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	switch encoding {
	case EncodingHex, "":
		raw, err := hex.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return raw, nil
	case EncodingBase64:
		raw, err := base64.StdEncoding.DecodeString(payload)
		if err == nil {
			return raw, nil
		}
		// unpadded variant
		if raw, rawErr := base64.RawStdEncoding.DecodeString(payload); rawErr == nil {
			return raw, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil, fmt.Errorf("codec: unsupported encoding %q", encoding)
}

// EncodeText is the inverse of DecodeText.
func EncodeText(encoding Encoding, raw []byte) (string, error) {
	switch encoding {
	case EncodingHex, "":
		return strings.ToUpper(hex.EncodeToString(raw)), nil
	case EncodingBase64:
		return base64.StdEncoding.EncodeToString(raw), nil
	}
	return "", fmt.Errorf("codec: unsupported encoding %q", encoding)
}

func batteryPercent(mode BatteryMode, b byte) float64 {
	if mode == BatteryRaw255 {
		return float64(b) / 255 * 100
	}
	return float64(b)
}

func batteryByte(mode BatteryMode, percent float64) (byte, error) {
	v := percent
	if mode == BatteryRaw255 {
		v = percent * 255 / 100
	}
	v = math.Round(v)
	if v < 0 || v > math.MaxUint8 {
		return 0, fmt.Errorf("codec: battery %v does not fit in one byte", percent)
	}
	return byte(v), nil
}
