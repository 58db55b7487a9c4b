//go:build !debug_mem_utils

package memutils

// DebugValidate runs a full consistency check and panics with the failure. It is compiled out
// unless the debug_mem_utils build tag is present.
func DebugValidate(validatable Validatable) {
}
