package ignore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"

	"github.com/openmined/syftsync/internal/utils"
	"github.com/spf13/afero"
)

// The state file is a big-endian uint32 count followed by count entries of
// uint16 length, UTF-8 pattern bytes and one enabled byte.

// Save writes the global patterns to the state file atomically.
func (r *Registry) Save() error {
	data, err := encodePatterns(r.Patterns())
	if err != nil {
		return err
	}
	if err := utils.WriteFileAtomicFs(r.fs, r.statePath, data, 0o644); err != nil {
		return fmt.Errorf("failed to save ignore state: %w", err)
	}
	return nil
}

// Load replaces the global patterns with the saved ones. A missing state file
// leaves the registry empty.
func (r *Registry) Load() error {
	data, err := afero.ReadFile(r.fs, r.statePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read ignore state: %w", err)
	}

	patterns, err := decodePatterns(data)
	if err != nil {
		return fmt.Errorf("failed to decode ignore state %s: %w", r.statePath, err)
	}

	r.mu.Lock()
	r.global = patterns
	r.mu.Unlock()
	return nil
}

func encodePatterns(patterns []Pattern) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(patterns))); err != nil {
		return nil, err
	}
	for _, p := range patterns {
		if len(p.Pattern) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: pattern too long", ErrInvalidPattern)
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(p.Pattern))); err != nil {
			return nil, err
		}
		buf.WriteString(p.Pattern)
		if p.Enabled {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}
	return buf.Bytes(), nil
}

func decodePatterns(data []byte) ([]Pattern, error) {
	r := bytes.NewReader(data)

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	// every entry takes at least three bytes
	if int64(count)*3 > int64(r.Len()) {
		return nil, fmt.Errorf("count %d exceeds data", count)
	}

	patterns := make([]Pattern, 0, count)
	for i := uint32(0); i < count; i++ {
		var n uint16
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, fmt.Errorf("read entry %d: %w", i, err)
		}
		text := make([]byte, n)
		if _, err := io.ReadFull(r, text); err != nil {
			return nil, fmt.Errorf("read entry %d: %w", i, err)
		}
		enabled, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("read entry %d: %w", i, err)
		}
		patterns = append(patterns, Pattern{Pattern: string(text), Enabled: enabled != 0})
	}
	return patterns, nil
}
