// Package integrity produces and verifies SHA-256 checksum sidecars for
// backup artifacts.
//
// A sidecar lives next to its artifact at path + ".sha256" and holds a single
// BSD-style line:
//
//	SHA256 (backup-2024.tar) = 2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824
//
// A bare 64-character hex digest is accepted on read as well. Verification
// never trusts a cached digest; the artifact is re-hashed on every call.
//
// The package also lists backup artifacts with their stored digests and walks
// tar archives (plain, gzip, zstd or lz4 compressed) to confirm they are
// readable end to end.
//
// Functions in this package keep no shared state and may be called
// concurrently on different files. Writes to the same artifact and sidecar
// pair must be serialized by the caller.
package integrity
