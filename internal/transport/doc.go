// Package transport provides the HTTP client shared by the download engine
// and the release resolvers.
//
// It handles:
//   - HEAD probes for size, range support and file name
//   - Resumable GETs with "Range: bytes=N-"
//   - JSON API requests with jittered exponential backoff
//   - Mapping of HTTP status codes to sentinel errors
//
// Transfers never retry internally; the caller decides what a failed
// transfer means.
package transport
