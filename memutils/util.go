package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

// Alignment is the byte alignment of every payload and header managed by this module
const Alignment uint = 8

type Number interface {
	~int | ~uint
}

func CheckPow2[T Number](number T, name string) error {
	if number <= 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// IsAligned returns true if value is a multiple of alignment
func IsAligned(value int, alignment uint) bool {
	return value&int(alignment-1) == 0
}
