// Package netcdf reads the classic NetCDF format (CDF-1 and CDF-2) that
// AMBER uses for binary restart and trajectory files.
//
// A classic file is a header followed by flat array data. The header lists
// dimensions, global attributes, and variables; each variable carries the
// file offset of its data. Record variables (those whose first dimension is
// the unlimited dimension) are interleaved per record after the fixed data.
// Detailed information on the format can be found at
// https://docs.unidata.ucar.edu/netcdf-c/current/file_format_specifications.html
//
// Parsers consume the format through the Backend interface, so another
// reader (or a Stub when none is wanted) can be swapped in process-wide
// with SetBackend.
package netcdf

import (
	"encoding/binary"
	"io"
	"math"
	"os"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrNotNetCDF    = errors.New("netcdf: missing CDF magic")
	ErrUnsupported  = errors.New("netcdf: unsupported format version")
	ErrNoSuchVar    = errors.New("netcdf: no such variable")
	ErrNoBackend    = errors.New("netcdf: no backend available")
	ErrHeaderFormat = errors.New("netcdf: malformed header")
)

// File is the capability surface the parsers need from a NetCDF reader.
type File interface {
	// Attr returns a global attribute rendered as a string.
	Attr(name string) (string, bool)
	// Dim returns the length of a named dimension.
	Dim(name string) (int, bool)
	// HasVar reports whether a variable exists without reading its data.
	HasVar(name string) bool
	// VarShape returns the dimension lengths of a variable, record
	// dimension first.
	VarShape(name string) ([]int, bool)
	// ReadFloats reads an entire variable as float64s in row-major order.
	// Intended for the small per-frame axes (time, cell_lengths,
	// cell_angles, temp0), not for coordinates.
	ReadFloats(name string) ([]float64, error)
	Close() error
}

// Backend opens NetCDF files. Process-wide; replaceable with SetBackend.
type Backend interface {
	Name() string
	Open(path string) (File, error)
}

var backendMu sync.RWMutex
var backend Backend = Classic{}

// SetBackend replaces the process-wide backend. Pass Stub{} to disable
// binary parsing (files are still identified as NetCDF, with a warning).
func SetBackend(b Backend) {
	backendMu.Lock()
	backend = b
	backendMu.Unlock()
}

// Open opens path with the current backend.
func Open(path string) (File, error) {
	backendMu.RLock()
	b := backend
	backendMu.RUnlock()
	if b == nil {
		return nil, ErrNoBackend
	}
	return b.Open(path)
}

// BackendName names the current backend for diagnostics.
func BackendName() string {
	backendMu.RLock()
	defer backendMu.RUnlock()
	if backend == nil {
		return "none"
	}
	return backend.Name()
}

// Stub is a Backend that refuses every open.
type Stub struct{}

func (Stub) Name() string { return "none" }

func (Stub) Open(path string) (File, error) { return nil, ErrNoBackend }

// Classic is the built-in CDF-1/CDF-2 reader and the default backend.
type Classic struct{}

func (Classic) Name() string { return "classic" }

func (Classic) Open(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "netcdf: open %s", path)
	}
	ds, err := readHeader(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "netcdf: %s", path)
	}
	ds.f = f
	return ds, nil
}

// header tag words and external types
const (
	tagDimension = 0x0A
	tagVariable  = 0x0B
	tagAttribute = 0x0C

	ncByte   = 1
	ncChar   = 2
	ncShort  = 3
	ncInt    = 4
	ncFloat  = 5
	ncDouble = 6

	streamingRecs = 0xFFFFFFFF
)

func typeSize(t uint32) int {
	switch t {
	case ncByte, ncChar:
		return 1
	case ncShort:
		return 2
	case ncInt, ncFloat:
		return 4
	case ncDouble:
		return 8
	}
	return 0
}

type dim struct {
	name   string
	length int // 0 marks the record dimension
}

type variable struct {
	name    string
	dimids  []int
	dtype   uint32
	begin   int64
	record  bool
	slot    int // bytes per record (record vars) or total bytes (fixed vars)
	nvals   int // values per record (record vars) or total values (fixed vars)
	attrs   map[string]string
}

type dataset struct {
	f       *os.File
	version byte
	numrecs int
	dims    []dim
	attrs   map[string]string
	vars    map[string]*variable
	recsize int64
}

type headerReader struct {
	r   io.Reader
	err error
}

func (h *headerReader) u32() uint32 {
	var b [4]byte
	if h.err == nil {
		_, h.err = io.ReadFull(h.r, b[:])
	}
	return binary.BigEndian.Uint32(b[:])
}

func (h *headerReader) u64() uint64 {
	var b [8]byte
	if h.err == nil {
		_, h.err = io.ReadFull(h.r, b[:])
	}
	return binary.BigEndian.Uint64(b[:])
}

func (h *headerReader) bytes(n int) []byte {
	b := make([]byte, n)
	if h.err == nil {
		_, h.err = io.ReadFull(h.r, b)
	}
	return b
}

// name reads a counted string padded to a 4-byte boundary.
func (h *headerReader) name() string {
	n := int(h.u32())
	if h.err != nil || n < 0 || n > 1<<20 {
		if h.err == nil {
			h.err = ErrHeaderFormat
		}
		return ""
	}
	b := h.bytes(n)
	h.bytes(pad4(n) - n)
	return string(b)
}

func pad4(n int) int {
	return (n + 3) &^ 3
}

func readHeader(f *os.File) (*dataset, error) {
	h := &headerReader{r: f}

	magic := h.bytes(4)
	if h.err != nil || magic[0] != 'C' || magic[1] != 'D' || magic[2] != 'F' {
		return nil, ErrNotNetCDF
	}
	version := magic[3]
	if version != 1 && version != 2 {
		return nil, ErrUnsupported
	}

	ds := &dataset{
		version: version,
		numrecs: int(h.u32()),
		attrs:   map[string]string{},
		vars:    map[string]*variable{},
	}

	// dimension list
	tag, n := h.u32(), h.u32()
	if tag == tagDimension {
		for i := uint32(0); i < n; i++ {
			name := h.name()
			ds.dims = append(ds.dims, dim{name: name, length: int(h.u32())})
		}
	} else if tag != 0 || n != 0 {
		return nil, ErrHeaderFormat
	}

	// global attributes
	attrs, err := readAttrs(h)
	if err != nil {
		return nil, err
	}
	ds.attrs = attrs

	// variables
	tag, n = h.u32(), h.u32()
	if tag == tagVariable {
		for i := uint32(0); i < n; i++ {
			v := &variable{name: h.name()}
			ndims := int(h.u32())
			for j := 0; j < ndims; j++ {
				v.dimids = append(v.dimids, int(h.u32()))
			}
			if v.attrs, err = readAttrs(h); err != nil {
				return nil, err
			}
			v.dtype = h.u32()
			h.u32() // vsize: advisory, recomputed below
			if version == 2 {
				v.begin = int64(h.u64())
			} else {
				v.begin = int64(h.u32())
			}
			if h.err != nil {
				return nil, h.err
			}
			if err := ds.finishVar(v); err != nil {
				return nil, err
			}
			ds.vars[v.name] = v
		}
	} else if tag != 0 || n != 0 {
		return nil, ErrHeaderFormat
	}

	if h.err != nil {
		return nil, h.err
	}

	ds.computeRecsize()
	if uint32(ds.numrecs) == streamingRecs {
		ds.numrecs = ds.streamedRecs(f)
	}
	return ds, nil
}

func readAttrs(h *headerReader) (map[string]string, error) {
	attrs := map[string]string{}
	tag, n := h.u32(), h.u32()
	if tag == 0 && n == 0 {
		return attrs, h.err
	}
	if tag != tagAttribute {
		return nil, ErrHeaderFormat
	}
	for i := uint32(0); i < n; i++ {
		name := h.name()
		dtype := h.u32()
		nelems := int(h.u32())
		sz := typeSize(dtype)
		if sz == 0 || nelems < 0 || nelems > 1<<24 {
			return nil, ErrHeaderFormat
		}
		raw := h.bytes(pad4(nelems * sz))
		if h.err != nil {
			return nil, h.err
		}
		if dtype == ncChar {
			attrs[name] = string(raw[:nelems])
		} else {
			attrs[name] = formatNumericAttr(raw[:nelems*sz], dtype)
		}
	}
	return attrs, h.err
}

// finishVar resolves dimension lengths into element counts and byte sizes.
func (ds *dataset) finishVar(v *variable) error {
	sz := typeSize(v.dtype)
	if sz == 0 {
		return ErrUnsupported
	}
	nvals := 1
	for i, id := range v.dimids {
		if id < 0 || id >= len(ds.dims) {
			return ErrHeaderFormat
		}
		d := ds.dims[id]
		if d.length == 0 {
			if i != 0 {
				return ErrHeaderFormat
			}
			v.record = true
			continue
		}
		nvals *= d.length
	}
	v.nvals = nvals
	v.slot = nvals * sz
	return nil
}

// computeRecsize sums the padded per-record slots. With a single record
// variable the slot is not padded.
func (ds *dataset) computeRecsize() {
	var recVars []*variable
	for _, v := range ds.vars {
		if v.record {
			recVars = append(recVars, v)
		}
	}
	if len(recVars) == 1 {
		ds.recsize = int64(recVars[0].slot)
		return
	}
	for _, v := range recVars {
		ds.recsize += int64(pad4(v.slot))
	}
}

// streamedRecs infers the record count from the file size when the header
// carries the STREAMING sentinel.
func (ds *dataset) streamedRecs(f *os.File) int {
	if ds.recsize == 0 {
		return 0
	}
	fi, err := f.Stat()
	if err != nil {
		return 0
	}
	var first int64 = -1
	for _, v := range ds.vars {
		if v.record && (first < 0 || v.begin < first) {
			first = v.begin
		}
	}
	if first < 0 || fi.Size() < first {
		return 0
	}
	return int((fi.Size() - first) / ds.recsize)
}

func (ds *dataset) Attr(name string) (string, bool) {
	s, ok := ds.attrs[name]
	return s, ok
}

func (ds *dataset) Dim(name string) (int, bool) {
	for _, d := range ds.dims {
		if d.name == name {
			if d.length == 0 {
				return ds.numrecs, true
			}
			return d.length, true
		}
	}
	return 0, false
}

func (ds *dataset) HasVar(name string) bool {
	_, ok := ds.vars[name]
	return ok
}

func (ds *dataset) VarShape(name string) ([]int, bool) {
	v, ok := ds.vars[name]
	if !ok {
		return nil, false
	}
	shape := make([]int, 0, len(v.dimids))
	for _, id := range v.dimids {
		l := ds.dims[id].length
		if l == 0 {
			l = ds.numrecs
		}
		shape = append(shape, l)
	}
	return shape, true
}

func (ds *dataset) ReadFloats(name string) ([]float64, error) {
	v, ok := ds.vars[name]
	if !ok {
		return nil, errors.Wrap(ErrNoSuchVar, name)
	}

	if !v.record {
		raw := make([]byte, v.slot)
		if _, err := ds.f.ReadAt(raw, v.begin); err != nil {
			return nil, errors.Wrapf(err, "netcdf: read %s", name)
		}
		return decodeFloats(raw, v.dtype, v.nvals), nil
	}

	out := make([]float64, 0, v.nvals*ds.numrecs)
	raw := make([]byte, v.slot)
	for r := 0; r < ds.numrecs; r++ {
		off := v.begin + int64(r)*ds.recsize
		if _, err := ds.f.ReadAt(raw, off); err != nil {
			return nil, errors.Wrapf(err, "netcdf: read %s record %d", name, r)
		}
		out = append(out, decodeFloats(raw, v.dtype, v.nvals)...)
	}
	return out, nil
}

func (ds *dataset) Close() error {
	return ds.f.Close()
}

func decodeFloats(raw []byte, dtype uint32, n int) []float64 {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		switch dtype {
		case ncByte:
			out[i] = float64(int8(raw[i]))
		case ncChar:
			out[i] = float64(raw[i])
		case ncShort:
			out[i] = float64(int16(binary.BigEndian.Uint16(raw[i*2:])))
		case ncInt:
			out[i] = float64(int32(binary.BigEndian.Uint32(raw[i*4:])))
		case ncFloat:
			out[i] = float64(math.Float32frombits(binary.BigEndian.Uint32(raw[i*4:])))
		case ncDouble:
			out[i] = math.Float64frombits(binary.BigEndian.Uint64(raw[i*8:]))
		}
	}
	return out
}

func formatNumericAttr(raw []byte, dtype uint32) string {
	vals := decodeFloats(raw, dtype, len(raw)/typeSize(dtype))
	s := ""
	for i, v := range vals {
		if i > 0 {
			s += " "
		}
		s += strconv.FormatFloat(v, 'g', -1, 64)
	}
	return s
}
