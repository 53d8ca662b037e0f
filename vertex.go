package gpuflow

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/gogpu/gputypes"
)

// VertexInput describes the single interleaved vertex buffer of a
// graphics pipeline.
type VertexInput struct {
	Stride     uint64
	Attributes []gputypes.VertexAttribute
}

func (v VertexInput) layout() gputypes.VertexBufferLayout {
	return gputypes.VertexBufferLayout{
		ArrayStride: v.Stride,
		StepMode:    gputypes.VertexStepModeVertex,
		Attributes:  v.Attributes,
	}
}

// Match reports whether v agrees with the attributes a vertex shader
// declares: the same locations with the same formats, each attribute
// 4-byte aligned and inside the stride, and no two attributes sharing
// bytes. Attributes may sit in the buffer in any order.
func (v VertexInput) Match(want []ShaderVertexAttribute) error {
	byLocation := func(a, b gputypes.VertexAttribute) int {
		return cmp.Compare(a.ShaderLocation, b.ShaderLocation)
	}
	got := slices.SortedFunc(slices.Values(v.Attributes), byLocation)
	want = slices.SortedFunc(slices.Values(want), func(a, b ShaderVertexAttribute) int {
		return cmp.Compare(a.Location, b.Location)
	})

	have := make(map[uint32]bool, len(got))
	for _, a := range got {
		if have[a.ShaderLocation] {
			return fmt.Errorf("%w: location %d described twice", ErrVertexInputMismatch, a.ShaderLocation)
		}
		have[a.ShaderLocation] = true
	}
	for _, w := range want {
		if !have[w.Location] {
			return fmt.Errorf("%w: shader input %q at location %d (%s) not described",
				ErrVertexInputMismatch, w.Name, w.Location, w.Format)
		}
	}
	if len(got) != len(want) {
		var extra []string
		for _, a := range got {
			if !slices.ContainsFunc(want, func(w ShaderVertexAttribute) bool { return w.Location == a.ShaderLocation }) {
				extra = append(extra, strconv.FormatUint(uint64(a.ShaderLocation), 10))
			}
		}
		return fmt.Errorf("%w: locations %s are not shader inputs", ErrVertexInputMismatch, strings.Join(extra, ", "))
	}
	if len(got) > 0 && v.Stride == 0 {
		return fmt.Errorf("%w: stride is zero", ErrVertexInputMismatch)
	}

	for i, a := range got {
		w := want[i]
		if a.Format != w.Format {
			return fmt.Errorf("%w: location %d (%q) is %s, shader declares %s",
				ErrVertexInputMismatch, w.Location, w.Name, a.Format, w.Format)
		}
		if a.Offset%4 != 0 {
			return fmt.Errorf("%w: location %d (%q) at offset %d is not 4-byte aligned",
				ErrVertexInputMismatch, w.Location, w.Name, a.Offset)
		}
		if end := a.Offset + a.Format.Size(); end < a.Offset || end > v.Stride {
			return fmt.Errorf("%w: location %d (%q) ends at byte %d, past stride %d",
				ErrVertexInputMismatch, w.Location, w.Name, a.Offset+a.Format.Size(), v.Stride)
		}
	}

	byOffset := slices.SortedFunc(slices.Values(got), func(a, b gputypes.VertexAttribute) int {
		return cmp.Compare(a.Offset, b.Offset)
	})
	for i := 1; i < len(byOffset); i++ {
		prev, a := byOffset[i-1], byOffset[i]
		if prev.Offset+prev.Format.Size() > a.Offset {
			return fmt.Errorf("%w: locations %d and %d overlap at offset %d",
				ErrVertexInputMismatch, prev.ShaderLocation, a.ShaderLocation, a.Offset)
		}
	}
	return nil
}

// VertexInputOf derives a vertex input from the fields of struct T tagged
// `gpu:"location=N"`. Offsets and stride follow the packed encoding
// buffers use, so a *Buffer[T] matches the result.
//
// Field types map to vertex formats: float32, uint32 and int32 scalars
// and arrays of 2 to 4 of them.
func VertexInputOf[T any]() (VertexInput, error) {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil || t.Kind() != reflect.Struct {
		return VertexInput{}, fmt.Errorf("%w: %T is not a struct", ErrVertexInputMismatch, zero)
	}
	stride := binary.Size(zero)
	if stride <= 0 {
		return VertexInput{}, fmt.Errorf("%w: %T has no fixed size", ErrVertexInputMismatch, zero)
	}

	var in VertexInput
	in.Stride = uint64(stride)
	var offset uint64
	for i := range t.NumField() {
		f := t.Field(i)
		size := binary.Size(reflect.Zero(f.Type).Interface())
		if size < 0 {
			return VertexInput{}, fmt.Errorf("%w: field %s has no fixed size", ErrVertexInputMismatch, f.Name)
		}
		tag, ok := f.Tag.Lookup("gpu")
		if ok {
			loc, err := parseLocation(tag)
			if err != nil {
				return VertexInput{}, fmt.Errorf("%w: field %s: %v", ErrVertexInputMismatch, f.Name, err)
			}
			format, ok := goVertexFormat(f.Type)
			if !ok {
				return VertexInput{}, fmt.Errorf("%w: field %s: %s has no vertex format", ErrVertexInputMismatch, f.Name, f.Type)
			}
			in.Attributes = append(in.Attributes, gputypes.VertexAttribute{
				Format:         format,
				Offset:         offset,
				ShaderLocation: loc,
			})
		}
		offset += uint64(size) //nolint:gosec // G115: size checked non-negative
	}
	return in, nil
}

func parseLocation(tag string) (uint32, error) {
	v, ok := strings.CutPrefix(tag, "location=")
	if !ok {
		return 0, fmt.Errorf("tag %q: want location=N", tag)
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("tag %q: %w", tag, err)
	}
	return uint32(n), nil
}

func goVertexFormat(t reflect.Type) (gputypes.VertexFormat, bool) {
	n := 1
	elem := t
	if t.Kind() == reflect.Array {
		n = t.Len()
		elem = t.Elem()
	}
	if n < 1 || n > 4 {
		return 0, false
	}
	var row [4]gputypes.VertexFormat
	switch elem.Kind() {
	case reflect.Float32:
		row = [4]gputypes.VertexFormat{gputypes.VertexFormatFloat32, gputypes.VertexFormatFloat32x2, gputypes.VertexFormatFloat32x3, gputypes.VertexFormatFloat32x4}
	case reflect.Uint32:
		row = [4]gputypes.VertexFormat{gputypes.VertexFormatUint32, gputypes.VertexFormatUint32x2, gputypes.VertexFormatUint32x3, gputypes.VertexFormatUint32x4}
	case reflect.Int32:
		row = [4]gputypes.VertexFormat{gputypes.VertexFormatSint32, gputypes.VertexFormatSint32x2, gputypes.VertexFormatSint32x3, gputypes.VertexFormatSint32x4}
	default:
		return 0, false
	}
	return row[n-1], true
}
