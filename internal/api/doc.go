// Package api serves the calibrator's device state over HTTP and WebSocket.
//
// Endpoints:
//   - GET /state        coupled state of every configured device
//   - GET /state/{id}   coupled state of one device (404 if unknown)
//   - GET /health       liveness plus broker connectivity
//   - GET /metrics      runtime, dispatcher, publisher and readiness counters
//   - GET /ws           WebSocket stream of device.state_changed events
//
// The Hub doubles as the pipeline's state observer: every store update is
// pushed to connected clients without blocking the worker that made it.
//
//	srv, err := api.New(deps)
//	handler.SetObserver(srv.Hub())
//	srv.Start(ctx)
//	defer srv.Close()
//
// There is no authentication. Bind to a trusted interface.
package api
