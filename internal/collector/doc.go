// Package collector is the receiving end of the beacon wire format.
//
// A Server accepts beacons as GET query strings (image transport) or
// url-encoded POST bodies (XHR and native transports), limits each client
// to a token-bucket allowance and answers 429 beyond it, and stores every
// accepted beacon in SQLite. Composite values sent in JSURL notation are
// expanded so the stored JSON can be queried by variable name.
//
// Routes:
//
//	/beacon       GET, POST   receive a beacon
//	/api/beacons  GET         recent beacons as JSON (limit, initiator, pid, since)
//	/stream       WebSocket   live feed of accepted beacons
//	/metrics      GET         Prometheus metrics
//	/healthz      GET         liveness
//
// Basic usage:
//
//	store, err := collector.OpenStore("beacons.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	srv := collector.NewServer(store, collector.WithLogger(logger))
//	go srv.Run(ctx)
//	http.ListenAndServe(":8080", srv.Handler())
package collector
