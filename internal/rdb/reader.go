package rdb

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrUnsupportedValueType is returned for value-record type codes this
// revision doesn't implement (only TypeString is required by spec.md).
var ErrUnsupportedValueType = errors.New("rdb: unsupported value type")

// Entry is one key loaded from a snapshot.
type Entry struct {
	Key   string
	Value []byte

	HasExpireMs bool
	ExpireMs    int64 // absolute unix milliseconds
}

// Reader parses an RDB-format file.
type Reader struct {
	r *bufio.Reader
}

// Open opens path for reading. A missing file is reported via the second
// return value (false), which spec.md §6 treats as a startup warning, not
// a fatal error.
func Open(path string) (*Reader, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("rdb: open %s: %w", path, err)
	}
	return &Reader{r: bufio.NewReader(f)}, true, nil
}

// Load parses the whole file and returns every db-0 string entry. Opcodes
// that select a different db are tolerated but their entries discarded, per
// spec.md ("only db 0 need be honored").
func (r *Reader) Load() ([]Entry, error) {
	if err := r.readMagicAndVersion(); err != nil {
		return nil, err
	}

	var entries []Entry
	var pendingExpireMs int64
	var hasPendingExpire bool
	db := 0

	for {
		opcode, err := r.r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("rdb: reading opcode: %w", err)
		}

		switch opcode {
		case OpEOF:
			var checksum [8]byte
			// The checksum is parsed but not validated; any bytes after it
			// are discarded, per spec.md.
			io.ReadFull(r.r, checksum[:])
			return entries, nil

		case OpAux:
			if _, err := r.readString(); err != nil {
				return nil, fmt.Errorf("rdb: aux key: %w", err)
			}
			if _, err := r.readString(); err != nil {
				return nil, fmt.Errorf("rdb: aux value: %w", err)
			}

		case OpResizeDB:
			if _, err := r.readLength(); err != nil {
				return nil, fmt.Errorf("rdb: resizedb hash size: %w", err)
			}
			if _, err := r.readLength(); err != nil {
				return nil, fmt.Errorf("rdb: resizedb expire size: %w", err)
			}

		case OpSelectDB:
			n, err := r.readLength()
			if err != nil {
				return nil, fmt.Errorf("rdb: selectdb: %w", err)
			}
			db = int(n)

		case OpExpireMs:
			var ms uint64
			if err := binary.Read(r.r, binary.LittleEndian, &ms); err != nil {
				return nil, fmt.Errorf("rdb: expire ms: %w", err)
			}
			pendingExpireMs = int64(ms)
			hasPendingExpire = true

		case OpExpireSec:
			var secs uint32
			if err := binary.Read(r.r, binary.LittleEndian, &secs); err != nil {
				return nil, fmt.Errorf("rdb: expire sec: %w", err)
			}
			pendingExpireMs = int64(secs) * 1000
			hasPendingExpire = true

		default:
			// A value record: type byte already consumed as opcode.
			key, err := r.readString()
			if err != nil {
				return nil, fmt.Errorf("rdb: key: %w", err)
			}

			if opcode != TypeString {
				return nil, fmt.Errorf("%w: type %d for key %q", ErrUnsupportedValueType, opcode, key)
			}
			val, err := r.readString()
			if err != nil {
				return nil, fmt.Errorf("rdb: value for key %q: %w", key, err)
			}

			if db == 0 {
				entries = append(entries, Entry{
					Key:         key,
					Value:       []byte(val),
					HasExpireMs: hasPendingExpire,
					ExpireMs:    pendingExpireMs,
				})
			}
			hasPendingExpire = false
			pendingExpireMs = 0
		}
	}
}

func (r *Reader) readMagicAndVersion() error {
	magic := make([]byte, 5)
	if _, err := io.ReadFull(r.r, magic); err != nil {
		return fmt.Errorf("rdb: magic: %w", err)
	}
	if string(magic) != Magic {
		return fmt.Errorf("rdb: bad magic %q", magic)
	}
	version := make([]byte, 4)
	if _, err := io.ReadFull(r.r, version); err != nil {
		return fmt.Errorf("rdb: version: %w", err)
	}
	return nil
}

// readLength reads a length-encoded integer per spec.md's four-shape
// encoding. Integer-encoded-string (0b11) prefixes are not valid in a
// length position and are rejected.
func (r *Reader) readLength() (uint32, error) {
	n, _, err := r.readLengthOrEncoding()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("rdb: expected a length, got integer encoding %d", -n-1)
	}
	return uint32(n), nil
}

// readLengthOrEncoding reads the shared length-encoding prefix. When the
// top two bits are 0b11, the result is encoded as a negative sentinel:
// -(format+1), where format is the integer/LZF encoding selector (0..3)
// taken from the low 6 bits.
func (r *Reader) readLengthOrEncoding() (int64, byte, error) {
	first, err := r.r.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	switch first >> 6 {
	case 0:
		return int64(first & 0x3F), first, nil
	case 1:
		second, err := r.r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		return int64(first&0x3F)<<8 | int64(second), first, nil
	case 2:
		var buf [4]byte
		if _, err := io.ReadFull(r.r, buf[:]); err != nil {
			return 0, 0, err
		}
		return int64(binary.BigEndian.Uint32(buf[:])), first, nil
	default: // 0b11: integer-encoded-string or LZF format selector
		format := first & 0x3F
		return -(int64(format) + 1), first, nil
	}
}

// readString reads a length-encoded string, including the three
// integer-encoded-string shapes, which materialize as decimal text.
func (r *Reader) readString() (string, error) {
	n, _, err := r.readLengthOrEncoding()
	if err != nil {
		return "", err
	}
	if n >= 0 {
		buf := make([]byte, n)
		if _, err := io.ReadFull(r.r, buf); err != nil {
			return "", err
		}
		return string(buf), nil
	}

	format := -(n + 1)
	switch format {
	case 0:
		b, err := r.r.ReadByte()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d", int8(b)), nil
	case 1:
		var buf [2]byte
		if _, err := io.ReadFull(r.r, buf[:]); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d", int16(binary.LittleEndian.Uint16(buf[:]))), nil
	case 2:
		var buf [4]byte
		if _, err := io.ReadFull(r.r, buf[:]); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d", int32(binary.LittleEndian.Uint32(buf[:]))), nil
	case 3:
		return "", fmt.Errorf("rdb: LZF compressed strings: %w", ErrUnsupportedValueType)
	default:
		return "", fmt.Errorf("rdb: unknown string encoding %d", format)
	}
}
