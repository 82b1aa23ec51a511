// Package metric exports xpub publisher and reader events as Prometheus
// metrics.
//
// Register the observer with a registry builder (or a Reader) and serve the
// registry with Handler:
//
//	reg := prometheus.NewRegistry()
//	obs, err := metric.NewObserver(reg, "orders")
//	...
//	xpub.NewRegistryBuilder().WithObserver(obs)
//	http.Handle("/metrics", metric.Handler(reg))
package metric
