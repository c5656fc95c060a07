package httpserver

import (
	"fmt"
	"strings"
	"time"
)

// Paths: маршруты служебного сервера.
type Paths struct {
	Metrics string // "/metrics"
	Healthz string // "/healthz"
	Readyz  string // "/readyz"
}

// Config: служебный сервер рядом с циклом producer/consumer.
type Config struct {
	Addr  string // ":8080"
	Paths Paths

	ReadTimeout     time.Duration // 10s
	WriteTimeout    time.Duration // 15s
	IdleTimeout     time.Duration // 60s
	ShutdownTimeout time.Duration // 5s

	// ProbeTimeout ограничивает все проверки одного /readyz.
	ProbeTimeout time.Duration // 2s
}

func orDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

func orPath(p *string, def string) {
	if *p == "" {
		*p = def
	}
}

func (c *Config) applyDefaults() {
	orDuration(&c.ReadTimeout, 10*time.Second)
	orDuration(&c.WriteTimeout, 15*time.Second)
	orDuration(&c.IdleTimeout, 60*time.Second)
	orDuration(&c.ShutdownTimeout, 5*time.Second)
	orDuration(&c.ProbeTimeout, 2*time.Second)
	orPath(&c.Paths.Metrics, "/metrics")
	orPath(&c.Paths.Healthz, "/healthz")
	orPath(&c.Paths.Readyz, "/readyz")
}

func (c Config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("httpserver: addr is required")
	}
	seen := map[string]bool{}
	for _, p := range []string{c.Paths.Metrics, c.Paths.Healthz, c.Paths.Readyz} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("httpserver: path %q must start with '/'", p)
		}
		if seen[p] {
			return fmt.Errorf("httpserver: duplicate path %q", p)
		}
		seen[p] = true
	}
	return nil
}
