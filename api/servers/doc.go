/*
Package servers implements the HTTP server of the TAK integration service.

The Server mounts the routes of every handler passed to New and adds the
operational endpoints:

  - GET /livez: always 200 while the process runs
  - GET /readyz: 200 once SetReady(true) was called and the server is not drained
  - GET /drain and /undrain: toggle readiness ahead of a rollout

Prometheus metrics are served by a separate listener when MetricsAddr is
set, and pprof is mounted under /debug when EnablePprof is true.

# Example Usage

	cfg := &api.HTTPServerConfig{
	    ListenAddr:    ":8003",
	    MetricsAddr:   "127.0.0.1:8090",
	    Log:           logger,
	    DrainDuration: 45 * time.Second,
	    ReadTimeout:   60 * time.Second,
	    WriteTimeout:  120 * time.Second,
	}

	server, err := servers.New(cfg, packageHandler, userHandler)
	if err != nil {
	    return err
	}
	server.RunInBackground()
	defer server.Shutdown()
*/
package servers
