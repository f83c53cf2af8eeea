package cache

import "time"

// Entry represents a cached macro build
type Entry struct {
	// Fingerprint is the unique identifier for this cache entry
	// Computed from: body source + resolved dependencies + toolchain identity
	Fingerprint string `json:"fingerprint"`

	// Package is the host package the macro body was extracted from
	Package string `json:"package"`

	// MacroFiles are the host files the body was extracted from
	MacroFiles []string `json:"macro_files"`

	// Toolchain is the identity of the toolchain that built the artifact.
	// The entry is only valid while this matches the current toolchain.
	Toolchain string `json:"toolchain"`

	// Timestamp when this entry was created
	Timestamp time.Time `json:"timestamp"`

	// Artifact is the absolute path of the compiled plugin
	Artifact string `json:"artifact"`

	// Exports lists the macro names the artifact serves
	Exports []string `json:"exports"`
}
