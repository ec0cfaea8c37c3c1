package tensor

import "fmt"

// ShapeError reports a shape mismatch between a destination and a source.
type ShapeError struct {
	Op   string
	Name string // Optional tensor name
	Want Shape
	Got  Shape
}

// Error implements the error interface.
func (e *ShapeError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s %q: shape mismatch: expected %v, got %v", e.Op, e.Name, e.Want, e.Got)
	}
	return fmt.Sprintf("%s: shape mismatch: expected %v, got %v", e.Op, e.Want, e.Got)
}

// DTypeError reports a data type mismatch between a destination and a source.
type DTypeError struct {
	Op   string
	Name string
	Want DataType
	Got  DataType
}

// Error implements the error interface.
func (e *DTypeError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s %q: dtype mismatch: expected %s, got %s", e.Op, e.Name, e.Want, e.Got)
	}
	return fmt.Sprintf("%s: dtype mismatch: expected %s, got %s", e.Op, e.Want, e.Got)
}
