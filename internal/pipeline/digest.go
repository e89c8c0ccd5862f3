package pipeline

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/ajitpratap0/tablesync/pkg/connector/core"
)

// value tags keep "1" and 1 apart
const (
	tagNull byte = iota
	tagInt
	tagFloat
	tagString
	tagBytes
	tagTime
)

// Digest accumulates an order-independent content hash of rows: the
// wrapping sum of the xxhash64 of every row.
type Digest struct {
	sum  uint64
	rows int64
	h    *xxhash.Digest
	buf  [8]byte
}

// NewDigest returns an empty digest.
func NewDigest() *Digest {
	return &Digest{h: xxhash.New()}
}

// Add folds row into the digest.
func (d *Digest) Add(row core.Row) {
	d.h.Reset()
	for _, v := range row {
		d.write(v)
	}
	d.sum += d.h.Sum64()
	d.rows++
}

// Sum returns the digest value.
func (d *Digest) Sum() uint64 { return d.sum }

// Rows returns the number of rows added.
func (d *Digest) Rows() int64 { return d.rows }

func (d *Digest) write(v interface{}) {
	switch x := v.(type) {
	case nil:
		d.tag(tagNull)
	case bool:
		// engines disagree between BIT/BOOLEAN and TINYINT(1)
		if x {
			d.int(1)
		} else {
			d.int(0)
		}
	case int:
		d.int(int64(x))
	case int8:
		d.int(int64(x))
	case int16:
		d.int(int64(x))
	case int32:
		d.int(int64(x))
	case int64:
		d.int(x)
	case uint:
		d.uint(uint64(x))
	case uint8:
		d.int(int64(x))
	case uint16:
		d.int(int64(x))
	case uint32:
		d.int(int64(x))
	case uint64:
		d.uint(x)
	case float32:
		d.float(float64(x))
	case float64:
		d.float(x)
	case string:
		d.str(tagString, x)
	case []byte:
		d.tag(tagBytes)
		d.length(len(x))
		_, _ = d.h.Write(x)
	case time.Time:
		d.str(tagTime, x.UTC().Format(time.RFC3339Nano))
	case fmt.Stringer:
		d.str(tagString, x.String())
	default:
		d.str(tagString, fmt.Sprint(x))
	}
}

func (d *Digest) tag(t byte) {
	_, _ = d.h.Write([]byte{t})
}

func (d *Digest) int(n int64) {
	d.tag(tagInt)
	binary.LittleEndian.PutUint64(d.buf[:], uint64(n))
	_, _ = d.h.Write(d.buf[:])
}

func (d *Digest) uint(n uint64) {
	if n <= math.MaxInt64 {
		d.int(int64(n))
		return
	}
	d.str(tagString, strconv.FormatUint(n, 10))
}

func (d *Digest) float(f float64) {
	// integral floats hash like integers
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		d.int(int64(f))
		return
	}
	d.str(tagFloat, strconv.FormatFloat(f, 'g', -1, 64))
}

func (d *Digest) str(t byte, s string) {
	d.tag(t)
	d.length(len(s))
	_, _ = d.h.WriteString(s)
}

func (d *Digest) length(n int) {
	binary.LittleEndian.PutUint64(d.buf[:], uint64(n))
	_, _ = d.h.Write(d.buf[:])
}
