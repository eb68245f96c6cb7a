// Package configblock reads and writes the binary session configuration block.
//
// Layout, all integers little-endian:
//
//	transport record, repeated:
//	  u32 size          whole record, header included
//	  u32 comms timeout seconds
//	  u32 retry total
//	  u32 retry wait seconds
//	  str url
//	  http/ws kinds only: str user agent, str proxy, str proxy user,
//	  str proxy password, bytes cert hash, str headers ("K: V\r\n" lines)
//	u32 0              end of transports
//	session block:
//	  u32 expiry seconds
//	  u64 comms handle (0 = none)
//	  [16] session uuid
//	extension, repeated:
//	  u32 size, then size bytes
//	u32 0              end of extensions
//
// str and bytes are a u16 length followed by the data. Records carry their own
// size so readers skip fields they do not know about.
package configblock

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/tether/internal/transport"
)

// ErrMalformed is returned for blocks that cannot be parsed.
var ErrMalformed = errors.New("configblock: malformed block") //nolint:gochecknoglobals // sentinel error

const (
	recordHeaderSize = 4 * 4
	sessionBlockSize = 4 + 8 + 16
)

// SessionParams holds the session block.
type SessionParams struct {
	ID          uuid.UUID
	Expiry      time.Duration
	CommsHandle uint64
}

// Config is a parsed block. Consumed is the offset of the extension region.
type Config struct {
	Transports []transport.Spec
	Session    SessionParams
	Consumed   int
}

// Parse reads transport records and the session block.
func Parse(block []byte) (*Config, error) {
	cfg := &Config{}
	off := 0

	for {
		if len(block)-off < 4 {
			return nil, fmt.Errorf("configblock.Parse: offset %d: missing terminator: %w", off, ErrMalformed)
		}
		size := int(binary.LittleEndian.Uint32(block[off:]))
		if size == 0 {
			off += 4
			break
		}
		if size < recordHeaderSize+2 || size > len(block)-off {
			return nil, fmt.Errorf("configblock.Parse: offset %d: record size %d: %w", off, size, ErrMalformed)
		}

		spec, err := parseTransport(block[off : off+size])
		if err != nil {
			return nil, fmt.Errorf("configblock.Parse: record %d at offset %d: %w", len(cfg.Transports), off, err)
		}
		cfg.Transports = append(cfg.Transports, spec)
		off += size
	}

	if len(block)-off < sessionBlockSize {
		return nil, fmt.Errorf("configblock.Parse: offset %d: short session block: %w", off, ErrMalformed)
	}
	r := &reader{buf: block[off : off+sessionBlockSize]}
	cfg.Session.Expiry = time.Duration(r.u32()) * time.Second
	cfg.Session.CommsHandle = r.u64()
	copy(cfg.Session.ID[:], r.raw(16))
	off += sessionBlockSize

	cfg.Consumed = off
	return cfg, nil
}

// Extensions walks the extension region that starts at offset.
func Extensions(block []byte, offset int) ([][]byte, error) {
	if offset < 0 || offset > len(block) {
		return nil, fmt.Errorf("configblock.Extensions: offset %d: %w", offset, ErrMalformed)
	}

	var out [][]byte
	off := offset
	for {
		if len(block)-off < 4 {
			return nil, fmt.Errorf("configblock.Extensions: offset %d: missing terminator: %w", off, ErrMalformed)
		}
		size := int(binary.LittleEndian.Uint32(block[off:]))
		off += 4
		if size == 0 {
			return out, nil
		}
		if size > len(block)-off {
			return nil, fmt.Errorf("configblock.Extensions: offset %d: size %d: %w", off-4, size, ErrMalformed)
		}
		out = append(out, block[off:off+size])
		off += size
	}
}

func parseTransport(rec []byte) (transport.Spec, error) {
	r := &reader{buf: rec, off: 4}
	spec := transport.Spec{
		Timeouts: transport.Timeouts{Comms: time.Duration(r.u32()) * time.Second},
	}
	spec.Retry.Total = int(r.u32())
	spec.Retry.Wait = time.Duration(r.u32()) * time.Second
	spec.URL = r.str()
	if r.err != nil {
		return spec, r.err
	}
	if spec.URL == "" {
		return spec, fmt.Errorf("empty url: %w", ErrMalformed)
	}

	kind, err := transport.KindFromURL(spec.URL)
	if err != nil {
		return spec, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if kind == transport.KindTCP || r.remaining() == 0 {
		return spec, nil
	}

	spec.HTTP.UserAgent = r.str()
	spec.HTTP.Proxy = r.str()
	spec.HTTP.ProxyUser = r.str()
	spec.HTTP.ProxyPassword = r.str()
	if hash := r.bytes(); len(hash) > 0 {
		spec.HTTP.CertHash = append([]byte(nil), hash...)
	}
	spec.HTTP.Headers = parseHeaders(r.str())
	if r.err != nil {
		return spec, r.err
	}
	return spec, nil
}

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) raw(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n > r.remaining() {
		r.err = fmt.Errorf("field at %d overruns record: %w", r.off, ErrMalformed)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u16() uint16 {
	b := r.raw(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.raw(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.raw(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) bytes() []byte {
	n := int(r.u16())
	return r.raw(n)
}

func (r *reader) str() string {
	return string(r.bytes())
}
