package api

import (
	"strings"

	"github.com/okian/mindlab/pkg/logger"
)

// Option configures a Server.
type Option func(*Server)

// WithMaxBatchSize caps the number of events accepted by one sync request.
func WithMaxBatchSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBatchSize = n
		}
	}
}

// WithCORSOrigins sets the origins allowed to call the API from a browser.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) {
		cleaned := make([]string, 0, len(origins))
		for _, o := range origins {
			if o = strings.TrimSpace(o); o != "" {
				cleaned = append(cleaned, o)
			}
		}
		if len(cleaned) > 0 {
			s.corsOrigins = cleaned
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}
