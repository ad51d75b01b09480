// Package types provides core types shared across the loom engine.
// It has zero dependencies on other loom packages to avoid circular imports.
package types
