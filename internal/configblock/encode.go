package configblock

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/gosuda/tether/internal/transport"
)

// Encode writes transports, the session block and extensions in block layout.
func Encode(transports []transport.Spec, sess SessionParams, extensions [][]byte) ([]byte, error) {
	var out []byte

	for i, spec := range transports {
		rec, err := encodeTransport(spec)
		if err != nil {
			return nil, fmt.Errorf("configblock.Encode: transport %d: %w", i, err)
		}
		out = append(out, rec...)
	}
	out = binary.LittleEndian.AppendUint32(out, 0)

	out = binary.LittleEndian.AppendUint32(out, seconds(sess.Expiry))
	out = binary.LittleEndian.AppendUint64(out, sess.CommsHandle)
	out = append(out, sess.ID[:]...)

	for i, ext := range extensions {
		if len(ext) == 0 || len(ext) > math.MaxUint32 {
			return nil, fmt.Errorf("configblock.Encode: extension %d: size %d: %w", i, len(ext), ErrMalformed)
		}
		out = binary.LittleEndian.AppendUint32(out, uint32(len(ext))) //nolint:gosec // bounded above
		out = append(out, ext...)
	}
	out = binary.LittleEndian.AppendUint32(out, 0)

	return out, nil
}

func encodeTransport(spec transport.Spec) ([]byte, error) {
	kind, err := transport.KindFromURL(spec.URL)
	if err != nil {
		return nil, err
	}

	w := &writer{buf: make([]byte, 4, 64)}
	w.u32(seconds(spec.Timeouts.Comms))
	w.u32(clampU32(spec.Retry.Total))
	w.u32(seconds(spec.Retry.Wait))
	w.str(spec.URL)

	if kind != transport.KindTCP {
		w.str(spec.HTTP.UserAgent)
		w.str(spec.HTTP.Proxy)
		w.str(spec.HTTP.ProxyUser)
		w.str(spec.HTTP.ProxyPassword)
		w.bytes(spec.HTTP.CertHash)
		w.str(formatHeaders(spec.HTTP.Headers))
	}
	if w.err != nil {
		return nil, w.err
	}

	binary.LittleEndian.PutUint32(w.buf, uint32(len(w.buf))) //nolint:gosec // records are small
	return w.buf, nil
}

type writer struct {
	buf []byte
	err error
}

func (w *writer) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *writer) bytes(b []byte) {
	if len(b) > math.MaxUint16 {
		w.err = fmt.Errorf("field of %d bytes: %w", len(b), ErrMalformed)
		return
	}
	w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(len(b))) //nolint:gosec // bounded above
	w.buf = append(w.buf, b...)
}

func (w *writer) str(s string) {
	w.bytes([]byte(s))
}

func seconds(d time.Duration) uint32 {
	return clampU32(int(d / time.Second))
}

func clampU32(v int) uint32 {
	switch {
	case v < 0:
		return 0
	case uint64(v) > math.MaxUint32:
		return math.MaxUint32
	default:
		return uint32(v)
	}
}

func formatHeaders(h map[string]string) string {
	if len(h) == 0 {
		return ""
	}
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(h[k])
		sb.WriteString("\r\n")
	}
	return sb.String()
}

func parseHeaders(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	out := make(map[string]string)
	for line := range strings.SplitSeq(raw, "\r\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if k = strings.TrimSpace(k); k != "" {
			out[k] = strings.TrimSpace(v)
		}
	}
	return out
}
