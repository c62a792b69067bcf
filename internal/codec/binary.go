package codec

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/trmrsh/cpp-tomog/internal/errs"
)

var byteOrder = binary.LittleEndian

// readField reads a fixed-size value, turning any short read into a
// TruncatedError tagged with the field name being decoded.
func readField(r io.Reader, field string, v any) error {
	if err := binary.Read(r, byteOrder, v); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return &errs.TruncatedError{Field: field, HaveBytes: -1}
		}
		return err
	}
	return nil
}

func writeField(w io.Writer, v any) error {
	return binary.Write(w, byteOrder, v)
}

// readArrayHeader reads a {rank:int32, dim0, dim1, ...} header and returns
// the dimensions.
func readArrayHeader(r io.Reader, field string) ([]int32, error) {
	var rank int32
	if err := readField(r, field+".rank", &rank); err != nil {
		return nil, err
	}
	if rank <= 0 || rank > 4 {
		return nil, &errs.BadFormatError{Expected: 0, Actual: rank}
	}
	dims := make([]int32, rank)
	for i := range dims {
		if err := readField(r, field+".dim", &dims[i]); err != nil {
			return nil, err
		}
		if dims[i] < 0 {
			return nil, &errs.InputShapeError{Field: field, Expected: ">= 0", Actual: itoa(int(dims[i]))}
		}
	}
	return dims, nil
}

func writeArrayHeader(w io.Writer, dims ...int32) error {
	if err := writeField(w, int32(len(dims))); err != nil {
		return err
	}
	for _, d := range dims {
		if err := writeField(w, d); err != nil {
			return err
		}
	}
	return nil
}

func readFloat32Slice(r io.Reader, field string, n int) ([]float32, error) {
	buf := make([]float32, n)
	if err := readField(r, field, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readFloat64Slice(r io.Reader, field string, n int) ([]float64, error) {
	buf := make([]float64, n)
	if err := readField(r, field, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadCube decodes an image cube from r: magic, Nw, Ng, N, vpix, then the
// Wave0/Gamma/Images arrays in row-major order.
func ReadCube(r io.Reader) (*Cube, error) {
	var magic int32
	if err := readField(r, "magic", &magic); err != nil {
		return nil, err
	}
	if magic != CubeMagic {
		return nil, &errs.BadFormatError{Expected: CubeMagic, Actual: magic}
	}

	var nw, ng, n int32
	if err := readField(r, "Nw", &nw); err != nil {
		return nil, err
	}
	if err := readField(r, "Ng", &ng); err != nil {
		return nil, err
	}
	if err := readField(r, "N", &n); err != nil {
		return nil, err
	}
	var vpix float32
	if err := readField(r, "vpix", &vpix); err != nil {
		return nil, err
	}

	wave0, err := readFloat64Slice(r, "wave0", int(nw))
	if err != nil {
		return nil, err
	}
	gamma, err := readFloat32Slice(r, "gamma", int(ng))
	if err != nil {
		return nil, err
	}
	data, err := readFloat32Slice(r, "data", int(nw)*int(ng)*int(n)*int(n))
	if err != nil {
		return nil, err
	}

	c := NewCube(int(nw), int(ng), int(n), vpix)
	c.Wave0 = wave0
	c.Gamma = gamma
	c.Images.CopyFrom(data)
	return c, nil
}

// WriteCube encodes an image cube to w in the layout ReadCube expects.
func WriteCube(w io.Writer, c *Cube) error {
	if err := writeField(w, CubeMagic); err != nil {
		return err
	}
	if err := writeField(w, int32(c.Images.Nw)); err != nil {
		return err
	}
	if err := writeField(w, int32(c.Images.Ng)); err != nil {
		return err
	}
	if err := writeField(w, int32(c.Images.N)); err != nil {
		return err
	}
	if err := writeField(w, c.Vpix); err != nil {
		return err
	}
	if err := writeField(w, c.Wave0); err != nil {
		return err
	}
	if err := writeField(w, c.Gamma); err != nil {
		return err
	}
	return writeField(w, c.Images.Data)
}

// ReadTrail decodes a trailed spectrum from r: magic, vpixd, wzero, then
// the time/expose/data/error arrays, each prefixed by a small
// {rank,dims...} header.
func ReadTrail(r io.Reader) (*Trail, error) {
	var magic int32
	if err := readField(r, "magic", &magic); err != nil {
		return nil, err
	}
	if magic != TrailMagic {
		return nil, &errs.BadFormatError{Expected: TrailMagic, Actual: magic}
	}

	var vpixd float32
	if err := readField(r, "vpixd", &vpixd); err != nil {
		return nil, err
	}
	var wzero float64
	if err := readField(r, "wzero", &wzero); err != nil {
		return nil, err
	}

	timeDims, err := readArrayHeader(r, "time")
	if err != nil {
		return nil, err
	}
	if len(timeDims) != 1 {
		return nil, &errs.InputShapeError{Field: "time", Expected: "rank 1", Actual: itoa(len(timeDims))}
	}
	ns := int(timeDims[0])
	time, err := readFloat64Slice(r, "time", ns)
	if err != nil {
		return nil, err
	}

	exposeDims, err := readArrayHeader(r, "expose")
	if err != nil {
		return nil, err
	}
	if len(exposeDims) != 1 {
		return nil, &errs.InputShapeError{Field: "expose", Expected: "rank 1", Actual: itoa(len(exposeDims))}
	}
	if int(exposeDims[0]) != ns {
		return nil, &errs.ShapeMismatchError{FieldA: "expose", ShapeA: itoa(int(exposeDims[0])), FieldB: "time", ShapeB: itoa(ns)}
	}
	expose, err := readFloat32Slice(r, "expose", ns)
	if err != nil {
		return nil, err
	}

	dataDims, err := readArrayHeader(r, "data")
	if err != nil {
		return nil, err
	}
	if len(dataDims) != 2 {
		return nil, &errs.InputShapeError{Field: "data", Expected: "rank 2", Actual: itoa(len(dataDims))}
	}
	if int(dataDims[0]) != ns {
		return nil, &errs.ShapeMismatchError{FieldA: "data", ShapeA: itoa(int(dataDims[0])), FieldB: "time", ShapeB: itoa(ns)}
	}
	np := int(dataDims[1])
	dataBuf, err := readFloat32Slice(r, "data", ns*np)
	if err != nil {
		return nil, err
	}

	errDims, err := readArrayHeader(r, "error")
	if err != nil {
		return nil, err
	}
	if len(errDims) != 2 || int(errDims[0]) != ns || int(errDims[1]) != np {
		return nil, &errs.ShapeMismatchError{
			FieldA: "error", ShapeA: shapeStr(int(errDims[0]), int(errDims[1])),
			FieldB: "data", ShapeB: shapeStr(ns, np),
		}
	}
	errBuf, err := readFloat32Slice(r, "error", ns*np)
	if err != nil {
		return nil, err
	}

	t := NewTrail(ns, np, vpixd, wzero)
	t.Time = time
	t.Expose = expose
	t.Data.CopyFrom(dataBuf)
	t.Err.CopyFrom(errBuf)
	return t, nil
}

// WriteTrail encodes a trailed spectrum to w in the layout ReadTrail
// expects.
func WriteTrail(w io.Writer, t *Trail) error {
	if err := writeField(w, TrailMagic); err != nil {
		return err
	}
	if err := writeField(w, t.Vpixd); err != nil {
		return err
	}
	if err := writeField(w, t.Lambda0); err != nil {
		return err
	}

	ns, np := t.Data.Rows, t.Data.Cols

	if err := writeArrayHeader(w, int32(ns)); err != nil {
		return err
	}
	if err := writeField(w, t.Time); err != nil {
		return err
	}

	if err := writeArrayHeader(w, int32(ns)); err != nil {
		return err
	}
	if err := writeField(w, t.Expose); err != nil {
		return err
	}

	if err := writeArrayHeader(w, int32(ns), int32(np)); err != nil {
		return err
	}
	if err := writeField(w, t.Data.Data); err != nil {
		return err
	}

	if err := writeArrayHeader(w, int32(ns), int32(np)); err != nil {
		return err
	}
	return writeField(w, t.Err.Data)
}
