// Package nctest builds small classic NetCDF (CDF-1) files for tests.
// It writes the same header layout the netcdf package reads: dimension
// list, global attributes, variable list, fixed data, then interleaved
// records.
package nctest

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"

	"github.com/pkg/errors"
)

const (
	tagDimension = 0x0A
	tagVariable  = 0x0B
	tagAttribute = 0x0C

	ncChar   = 2
	ncFloat  = 5
	ncDouble = 6
)

type dim struct {
	name   string
	length int
}

type attr struct {
	name  string
	value string
}

type vr struct {
	name   string
	dtype  uint32
	dimids []int
	data   []float64

	record bool
	nvals  int // values per record, or total values for fixed vars
	slot   int // unpadded byte size of one record / the whole fixed var
	begin  int64
}

// Builder accumulates dimensions, attributes, and variables, then writes
// a CDF-1 file.
type Builder struct {
	dims  []dim
	attrs []attr
	vars  []*vr
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Dim declares a dimension. Length 0 declares the record dimension.
func (b *Builder) Dim(name string, length int) *Builder {
	b.dims = append(b.dims, dim{name, length})
	return b
}

// Attr adds a global character attribute.
func (b *Builder) Attr(name, value string) *Builder {
	b.attrs = append(b.attrs, attr{name, value})
	return b
}

// VarDouble adds an NC_DOUBLE variable over the named dimensions, with
// data flattened row-major (records first).
func (b *Builder) VarDouble(name string, dims []string, data []float64) *Builder {
	return b.addVar(name, ncDouble, dims, data)
}

// VarFloat adds an NC_FLOAT variable.
func (b *Builder) VarFloat(name string, dims []string, data []float64) *Builder {
	return b.addVar(name, ncFloat, dims, data)
}

func (b *Builder) addVar(name string, dtype uint32, dims []string, data []float64) *Builder {
	v := &vr{name: name, dtype: dtype, data: data}
	for _, dn := range dims {
		id := -1
		for i, d := range b.dims {
			if d.name == dn {
				id = i
				break
			}
		}
		if id < 0 {
			panic("nctest: undeclared dimension " + dn)
		}
		v.dimids = append(v.dimids, id)
	}
	b.vars = append(b.vars, v)
	return b
}

func typeSize(t uint32) int {
	switch t {
	case ncChar:
		return 1
	case ncFloat:
		return 4
	case ncDouble:
		return 8
	}
	return 0
}

func pad4(n int) int {
	return (n + 3) &^ 3
}

// WriteFile lays the file out and writes it to path.
func (b *Builder) WriteFile(path string) error {
	numrecs := 0
	var recVars []*vr

	for _, v := range b.vars {
		nvals := 1
		v.record = false
		for i, id := range v.dimids {
			if b.dims[id].length == 0 {
				if i != 0 {
					return errors.Errorf("nctest: record dimension must come first in %s", v.name)
				}
				v.record = true
				continue
			}
			nvals *= b.dims[id].length
		}
		v.nvals = nvals
		v.slot = nvals * typeSize(v.dtype)
		if v.record {
			recVars = append(recVars, v)
			if nvals == 0 {
				return errors.Errorf("nctest: empty record slot in %s", v.name)
			}
			n := len(v.data) / nvals
			if n > numrecs {
				numrecs = n
			}
		} else if len(v.data) != nvals {
			return errors.Errorf("nctest: %s has %d values, want %d", v.name, len(v.data), nvals)
		}
	}

	headerSize := b.headerSize()

	// assign offsets: fixed vars first, then the record block
	off := int64(headerSize)
	for _, v := range b.vars {
		if v.record {
			continue
		}
		v.begin = off
		off += int64(pad4(v.slot))
	}
	recsize := 0
	for _, v := range recVars {
		v.begin = off + int64(recsize)
		recsize += pad4(v.slot)
	}
	if len(recVars) == 1 {
		recsize = recVars[0].slot
	}

	var buf bytes.Buffer
	b.writeHeader(&buf, numrecs)

	for _, v := range b.vars {
		if v.record {
			continue
		}
		writeValues(&buf, v.dtype, v.data)
		buf.Write(make([]byte, pad4(v.slot)-v.slot))
	}
	for r := 0; r < numrecs; r++ {
		for _, v := range recVars {
			lo := r * v.nvals
			hi := lo + v.nvals
			if hi > len(v.data) {
				writeValues(&buf, v.dtype, make([]float64, v.nvals))
			} else {
				writeValues(&buf, v.dtype, v.data[lo:hi])
			}
			if len(recVars) > 1 {
				buf.Write(make([]byte, pad4(v.slot)-v.slot))
			}
		}
	}

	return os.WriteFile(path, buf.Bytes(), 0644)
}

func (b *Builder) headerSize() int {
	n := 4 + 4 // magic + numrecs
	n += 8     // dim list tag + count
	for _, d := range b.dims {
		n += 4 + pad4(len(d.name)) + 4
	}
	n += 8 // gatt list
	for _, a := range b.attrs {
		n += 4 + pad4(len(a.name)) + 4 + 4 + pad4(len(a.value))
	}
	n += 8 // var list
	for _, v := range b.vars {
		n += 4 + pad4(len(v.name)) + 4 + 4*len(v.dimids)
		n += 8          // empty vatt list
		n += 4 + 4 + 4 // nc_type + vsize + begin (CDF-1)
	}
	return n
}

func (b *Builder) writeHeader(buf *bytes.Buffer, numrecs int) {
	buf.WriteString("CDF\x01")
	u32(buf, uint32(numrecs))

	if len(b.dims) > 0 {
		u32(buf, tagDimension)
		u32(buf, uint32(len(b.dims)))
		for _, d := range b.dims {
			writeName(buf, d.name)
			u32(buf, uint32(d.length))
		}
	} else {
		u32(buf, 0)
		u32(buf, 0)
	}

	if len(b.attrs) > 0 {
		u32(buf, tagAttribute)
		u32(buf, uint32(len(b.attrs)))
		for _, a := range b.attrs {
			writeName(buf, a.name)
			u32(buf, ncChar)
			u32(buf, uint32(len(a.value)))
			buf.WriteString(a.value)
			buf.Write(make([]byte, pad4(len(a.value))-len(a.value)))
		}
	} else {
		u32(buf, 0)
		u32(buf, 0)
	}

	if len(b.vars) > 0 {
		u32(buf, tagVariable)
		u32(buf, uint32(len(b.vars)))
		for _, v := range b.vars {
			writeName(buf, v.name)
			u32(buf, uint32(len(v.dimids)))
			for _, id := range v.dimids {
				u32(buf, uint32(id))
			}
			u32(buf, 0) // no variable attributes
			u32(buf, 0)
			u32(buf, v.dtype)
			u32(buf, uint32(pad4(v.slot)))
			u32(buf, uint32(v.begin))
		}
	} else {
		u32(buf, 0)
		u32(buf, 0)
	}
}

func writeName(buf *bytes.Buffer, name string) {
	u32(buf, uint32(len(name)))
	buf.WriteString(name)
	buf.Write(make([]byte, pad4(len(name))-len(name)))
}

func u32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeValues(buf *bytes.Buffer, dtype uint32, vals []float64) {
	switch dtype {
	case ncFloat:
		for _, v := range vals {
			var b [4]byte
			binary.BigEndian.PutUint32(b[:], math.Float32bits(float32(v)))
			buf.Write(b[:])
		}
	case ncDouble:
		for _, v := range vals {
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
			buf.Write(b[:])
		}
	}
}
