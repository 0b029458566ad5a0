// Package pipeline turns inbound MQTT messages into calibration updates.
//
// The Dispatcher receives every message from the MQTT subscription
// callback. It resolves the topic to a device and enqueues the message on
// one of a fixed number of worker queues, chosen by hashing the device ID.
// All messages for one device therefore land on the same queue and are
// handled in arrival order, while different devices proceed in parallel.
// Dispatch never waits for handling; a full queue drops the message.
//
// The Handler does the work for one message: decode the payload, update
// the device's coupled state, and once both sides have reported, compute
// the calibration and hand it to the publisher.
//
//	handler := pipeline.NewHandler(registry, store, publisher)
//	dispatcher := pipeline.NewDispatcher(registry, handler, pipeline.Options{
//	    Workers:   4,
//	    QueueSize: 64,
//	})
//	dispatcher.Start(ctx)
//	defer dispatcher.Stop(5 * time.Second)
package pipeline
