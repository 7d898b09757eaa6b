package decoder

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// ticks of 100ns between 1601-01-01 and the Unix epoch.
const epochDelta = 116444736000000000

type reader struct {
	b   []byte
	off int
	err error
}

func newReader(b []byte) *reader { return &reader{b: b} }

func (r *reader) need(n int, what string) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.off+n > len(r.b) {
		r.err = fmt.Errorf("%w: %s needs %d bytes at offset %d, have %d", ErrTruncated, what, n, r.off, len(r.b)-r.off)
		return false
	}
	return true
}

func (r *reader) u8(what string) byte {
	if !r.need(1, what) {
		return 0
	}
	v := r.b[r.off]
	r.off++
	return v
}

func (r *reader) u16(what string) uint16 {
	if !r.need(2, what) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32(what string) uint32 {
	if !r.need(4, what) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v
}

func (r *reader) u64(what string) uint64 {
	if !r.need(8, what) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v
}

func (r *reader) bytes(n int, what string) []byte {
	if !r.need(n, what) {
		return nil
	}
	v := r.b[r.off : r.off+n]
	r.off += n
	return v
}

// str reads a length-prefixed UA String; a negative length is the null string.
func (r *reader) str(what string) string {
	n := int32(r.u32(what))
	if n <= 0 {
		return ""
	}
	return string(r.bytes(int(n), what))
}

func (r *reader) dateTime(what string) time.Time {
	return fromTicks(int64(r.u64(what)))
}

// arrayLen reads an Int32 array length; -1 (null) is returned as 0.
func (r *reader) arrayLen(what string) int {
	n := int32(r.u32(what))
	if n < 0 {
		return 0
	}
	if int(n) > len(r.b)-r.off {
		r.err = fmt.Errorf("%w: %s array of %d elements", ErrTruncated, what, n)
		return 0
	}
	return int(n)
}

func (r *reader) rest() []byte {
	if r.err != nil {
		return nil
	}
	return r.b[r.off:]
}

func (r *reader) skip(n int, what string) {
	if r.need(n, what) {
		r.off += n
	}
}

// maxTicks is the last tick count whose Unix nanoseconds fit in an int64.
const maxTicks = math.MaxInt64/100 + epochDelta

// fromTicks converts a UA DateTime; zero, MaxInt64 and values past maxTicks are unset.
func fromTicks(ticks int64) time.Time {
	if ticks <= 0 || ticks > maxTicks {
		return time.Time{}
	}
	return time.Unix(0, (ticks-epochDelta)*100).UTC()
}

func toTicks(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()/100 + epochDelta
}

type writer struct {
	b []byte
}

func (w *writer) u8(v byte)    { w.b = append(w.b, v) }
func (w *writer) u16(v uint16) { w.b = binary.LittleEndian.AppendUint16(w.b, v) }
func (w *writer) u32(v uint32) { w.b = binary.LittleEndian.AppendUint32(w.b, v) }
func (w *writer) u64(v uint64) { w.b = binary.LittleEndian.AppendUint64(w.b, v) }
func (w *writer) raw(v []byte) { w.b = append(w.b, v...) }

func (w *writer) str(s string) {
	w.u32(uint32(len(s)))
	w.b = append(w.b, s...)
}

func (w *writer) dateTime(t time.Time) { w.u64(uint64(toTicks(t))) }
