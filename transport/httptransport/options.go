package httptransport

import (
	"time"
)

// ServerOptions contains configuration for the sync HTTP handler.
type ServerOptions struct {
	// MaxRequestSize is the maximum allowed size of incoming request bodies.
	MaxRequestSize int64

	// CompressionEnabled turns on gzip compression of responses for clients
	// that accept it.
	CompressionEnabled bool

	// CompressionThreshold is the minimum response size that gets compressed.
	CompressionThreshold int64

	// HeartbeatInterval is how often the subscribe stream sends a comment
	// line to keep intermediaries from timing out the connection.
	HeartbeatInterval time.Duration
}

// DefaultServerOptions returns production defaults: 1 MB request cap,
// compression for responses over 1 KB, 30 second heartbeats.
func DefaultServerOptions() *ServerOptions {
	return &ServerOptions{
		MaxRequestSize:       1 << 20,
		CompressionEnabled:   true,
		CompressionThreshold: 1024,
		HeartbeatInterval:    30 * time.Second,
	}
}

// ServerOption is a function that configures a ServerOptions struct
type ServerOption func(*ServerOptions)

// WithMaxRequestSize sets the maximum allowed size of incoming request bodies
func WithMaxRequestSize(size int64) ServerOption {
	return func(opts *ServerOptions) {
		opts.MaxRequestSize = size
	}
}

// WithCompression enables or disables response compression
func WithCompression(enabled bool) ServerOption {
	return func(opts *ServerOptions) {
		opts.CompressionEnabled = enabled
	}
}

// WithCompressionThreshold sets the minimum size for response compression
func WithCompressionThreshold(size int64) ServerOption {
	return func(opts *ServerOptions) {
		opts.CompressionThreshold = size
	}
}

// WithHeartbeatInterval sets the subscribe stream heartbeat interval
func WithHeartbeatInterval(interval time.Duration) ServerOption {
	return func(opts *ServerOptions) {
		opts.HeartbeatInterval = interval
	}
}

// applyServerOptions creates a new ServerOptions with the given options applied
func applyServerOptions(opts ...ServerOption) *ServerOptions {
	options := DefaultServerOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}
