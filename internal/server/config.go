package server

import (
	"time"

	"github.com/Vicaadrn/web-scanner-project/internal/app"
	"github.com/Vicaadrn/web-scanner-project/internal/logging"
)

type Config struct {
	// ListenAddr is the HTTP listen address for the API server.
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// AllowedOrigins lists origins allowed by CORS and the websocket
	// handshake. "*" allows any origin.
	AllowedOrigins []string

	Logger logging.Logger
}

// ConfigFrom copies the server section of the application config.
func ConfigFrom(c app.ServerConfig, logger logging.Logger) Config {
	return Config{
		ListenAddr:     c.Addr,
		ReadTimeout:    c.ReadTimeout,
		WriteTimeout:   c.WriteTimeout,
		IdleTimeout:    c.IdleTimeout,
		AllowedOrigins: c.AllowedOrigins,
		Logger:         logger,
	}
}

func (c Config) allowsOrigin(origin string) bool {
	for _, o := range c.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
