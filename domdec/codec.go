package domdec

import (
	"encoding/binary"
	"math"

	"github.com/kslagle/gomd/geom"
)

// All payloads cross the wire little endian so that the two transfer
// strategies stay byte comparable and every rank decodes identically.
var byteOrder = binary.LittleEndian

const (
	i32Bytes = 4
	f64Bytes = 8
	vecBytes = 3 * f64Bytes
)

func putVec(buf []byte, v *geom.Vec) {
	byteOrder.PutUint64(buf[0:], math.Float64bits(v[0]))
	byteOrder.PutUint64(buf[8:], math.Float64bits(v[1]))
	byteOrder.PutUint64(buf[16:], math.Float64bits(v[2]))
}

func getVecs(buf []byte, vs []geom.Vec) {
	for i := range vs {
		b := buf[i*vecBytes:]
		vs[i][0] = math.Float64frombits(byteOrder.Uint64(b[0:]))
		vs[i][1] = math.Float64frombits(byteOrder.Uint64(b[8:]))
		vs[i][2] = math.Float64frombits(byteOrder.Uint64(b[16:]))
	}
}

func putFloat64s(buf []byte, xs []float64) {
	for i, x := range xs {
		byteOrder.PutUint64(buf[i*f64Bytes:], math.Float64bits(x))
	}
}

func getFloat64s(buf []byte, xs []float64) {
	for i := range xs {
		xs[i] = math.Float64frombits(byteOrder.Uint64(buf[i*f64Bytes:]))
	}
}

func putInt32s(buf []byte, xs []int32) {
	for i, x := range xs {
		byteOrder.PutUint32(buf[i*i32Bytes:], uint32(x))
	}
}

func getInt32s(buf []byte, xs []int32) {
	for i := range xs {
		xs[i] = int32(byteOrder.Uint32(buf[i*i32Bytes:]))
	}
}

// bcastFloat64s replicates the master's xs into every rank's xs. All
// ranks must pass slices of the same length.
func (d *Dec) bcastFloat64s(xs []float64) error {
	buf := make([]byte, len(xs)*f64Bytes)
	if d.Master() {
		putFloat64s(buf, xs)
	}
	if err := d.comm.Bcast(MasterRank, buf); err != nil {
		return err
	}
	if !d.Master() {
		getFloat64s(buf, xs)
	}
	return nil
}

func (d *Dec) bcastFloat64(x *float64) error {
	buf := make([]byte, f64Bytes)
	if d.Master() {
		byteOrder.PutUint64(buf, math.Float64bits(*x))
	}
	if err := d.comm.Bcast(MasterRank, buf); err != nil {
		return err
	}
	*x = math.Float64frombits(byteOrder.Uint64(buf))
	return nil
}

func (d *Dec) bcastInt32s(xs []int32) error {
	buf := make([]byte, len(xs)*i32Bytes)
	if d.Master() {
		putInt32s(buf, xs)
	}
	if err := d.comm.Bcast(MasterRank, buf); err != nil {
		return err
	}
	if !d.Master() {
		getInt32s(buf, xs)
	}
	return nil
}

func (d *Dec) bcastInt32(x *int32) error {
	buf := make([]byte, i32Bytes)
	if d.Master() {
		byteOrder.PutUint32(buf, uint32(*x))
	}
	if err := d.comm.Bcast(MasterRank, buf); err != nil {
		return err
	}
	*x = int32(byteOrder.Uint32(buf))
	return nil
}

func (d *Dec) bcastMatrix(m *geom.Matrix) error {
	buf := make([]byte, 3*vecBytes)
	if d.Master() {
		for i := 0; i < 3; i++ {
			putVec(buf[i*vecBytes:], &m[i])
		}
	}
	if err := d.comm.Bcast(MasterRank, buf); err != nil {
		return err
	}
	if !d.Master() {
		getVecs(buf, m[:])
	}
	return nil
}
