package middleware

import (
	"sync"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
)

var (
	promMu    sync.Mutex
	promByApp = map[string]*fiberprometheus.FiberPrometheus{}
)

// InitMetrics returns the HTTP metrics collector for service. Collectors are
// registered once per process, so repeated calls share one instance.
func InitMetrics(service string) *fiberprometheus.FiberPrometheus {
	promMu.Lock()
	defer promMu.Unlock()
	if p, ok := promByApp[service]; ok {
		return p
	}
	p := fiberprometheus.New(service)
	promByApp[service] = p
	return p
}

// MetricsMiddleware records request count, latency and in-flight requests.
func MetricsMiddleware(p *fiberprometheus.FiberPrometheus) fiber.Handler {
	return p.Middleware
}
