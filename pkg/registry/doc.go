// Package registry maps operation names to span bindings so outer surfaces can
// create governed work by name.
package registry
