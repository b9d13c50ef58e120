// Package metrics exposes the service's Prometheus collectors and the
// dedicated HTTP server they are scraped from.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PackagesAssembled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "packages_assembled_total",
		Help: "Data and mission packages zipped successfully, by package type.",
	}, []string{"type"})

	PackageFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "package_failures_total",
		Help: "Package assemblies that were aborted, by package type.",
	}, []string{"type"})

	AssemblyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "package_assembly_duration_seconds",
		Help:    "Wall time of a single package assembly.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	EphemeralLinks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ephemeral_links_total",
		Help: "Ephemeral download links by outcome (issued, redeemed, rejected).",
	}, []string{"outcome"})

	ProvisioningScripts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "provisioning_scripts_total",
		Help: "Legacy provisioning script runs by script and result.",
	}, []string{"script", "result"})
)

// MetricsServer serves the service registry on its own listener.
type MetricsServer struct {
	*http.Server
}

// New returns a metrics server listening on addr. The service collectors,
// the Go runtime and the process collectors are registered in a fresh
// registry labelled with the given service name.
func New(service, addr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	labelled := prometheus.WrapRegistererWith(prometheus.Labels{"service": service}, registry)

	cs := []prometheus.Collector{
		PackagesAssembled,
		PackageFailures,
		AssemblyDuration,
		EphemeralLinks,
		ProvisioningScripts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range cs {
		if err := labelled.Register(c); err != nil {
			return nil, err
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &MetricsServer{
		Server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}
