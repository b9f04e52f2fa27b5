// Package trellis is the HTTP client for a TRELLIS.2 generation service.
// It covers the service's narrow REST surface: submitting text and image
// jobs, polling status, listing and deleting remote jobs, and downloading
// result artifacts by their relative paths.
package trellis
