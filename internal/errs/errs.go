// Package errs defines the closed set of fatal error kinds the tomography
// core can raise (spec §7). Each carries structured diagnostic data rather
// than just a message, so callers can errors.As into the kind they care
// about.
package errs

import "fmt"

// InputShapeError reports a dimension inconsistency detected at load time,
// e.g. an image whose slices are not all square, or a default image whose
// shape does not match the working image.
type InputShapeError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *InputShapeError) Error() string {
	return fmt.Sprintf("input shape error: %s expected %s, got %s", e.Field, e.Expected, e.Actual)
}

// BadFormatError reports a file whose magic number did not match. The
// codec also returns it, with Expected 0 and Actual the rank read, for an
// embedded array header whose rank is outside 1..4.
type BadFormatError struct {
	Expected int32
	Actual   int32
}

func (e *BadFormatError) Error() string {
	return fmt.Sprintf("bad format: expected magic %#x, got %#x", e.Expected, e.Actual)
}

// TruncatedError reports a file that ran out of bytes mid-read.
type TruncatedError struct {
	Field string
	// NeedBytes is how many bytes the read required; HaveBytes is how many
	// remained. HaveBytes may be -1 if the short read was detected by the
	// underlying reader rather than by a byte count.
	NeedBytes, HaveBytes int
}

func (e *TruncatedError) Error() string {
	if e.HaveBytes < 0 {
		return fmt.Sprintf("truncated file: short read while decoding %s", e.Field)
	}
	return fmt.Sprintf("truncated file: decoding %s needed %d bytes, had %d", e.Field, e.NeedBytes, e.HaveBytes)
}

// ShapeMismatchError reports cross-array inconsistency within one file,
// e.g. a trail whose error array shape does not match its data array.
type ShapeMismatchError struct {
	FieldA, FieldB string
	ShapeA, ShapeB string
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch: %s is %s but %s is %s", e.FieldA, e.ShapeA, e.FieldB, e.ShapeB)
}

// DomainViolationError reports a non-positive image voxel entering or
// produced by an iteration, where entropy requires f > 0.
type DomainViolationError struct {
	// Index is the flat voxel index, Value the offending value.
	Index int
	Value float64
}

func (e *DomainViolationError) Error() string {
	return fmt.Sprintf("domain violation: voxel %d = %g is <= 0", e.Index, e.Value)
}

// NumericFailureError reports a failure internal to the quadratic
// subproblem solve: a non-positive-definite 3x3 matrix, or a NaN in a
// gradient.
type NumericFailureError struct {
	Reason string
}

func (e *NumericFailureError) Error() string {
	return fmt.Sprintf("numeric failure: %s", e.Reason)
}

// UnreachableError reports an invariant breach that should be impossible
// given the rest of the core's contracts (e.g. a workspace slot requested
// outside the fixed 0..21 range).
type UnreachableError struct {
	Reason string
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("unreachable: %s", e.Reason)
}
