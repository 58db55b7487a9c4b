//go:build debug_mem_utils

package memutils

import cerrors "github.com/cockroachdb/errors"

// DebugValidate runs a full consistency check and panics with the failure. Allocators call it
// at the end of every operation that changes their block list. It is compiled out unless the
// debug_mem_utils build tag is present.
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(cerrors.NewAssertionErrorWithWrappedErrf(err, "%T failed debug validation", validatable))
	}
}
