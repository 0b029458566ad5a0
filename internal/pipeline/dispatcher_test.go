package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/valve-calibrator/internal/device"
)

// prefixRouter resolves "dev/<id>" to device <id> as a sensor.
type prefixRouter struct{}

func (prefixRouter) Resolve(topic string) (device.Route, bool) {
	id, ok := strings.CutPrefix(topic, "dev/")
	if !ok || id == "" {
		return device.Route{}, false
	}
	return device.Route{DeviceID: id, Kind: device.KindSensor}, true
}

// funcHandler adapts a function to MessageHandler.
type funcHandler func(ctx context.Context, topic string, payload []byte) error

func (f funcHandler) Handle(ctx context.Context, topic string, payload []byte) error {
	return f(ctx, topic, payload)
}

func startDispatcher(t *testing.T, h MessageHandler, opts Options) *Dispatcher {
	t.Helper()
	d := NewDispatcher(prefixRouter{}, h, opts)
	d.Start(context.Background())
	t.Cleanup(func() { d.Stop(time.Second) })
	return d
}

// idsOnDifferentShards returns two device IDs that hash to different queues.
func idsOnDifferentShards(t *testing.T, n int) (string, string) {
	t.Helper()
	first := "device-0"
	for i := 1; i < 100; i++ {
		id := fmt.Sprintf("device-%d", i)
		if shardFor(id, n) != shardFor(first, n) {
			return first, id
		}
	}
	t.Fatal("no two IDs on different shards")
	return "", ""
}

func TestShardFor(t *testing.T) {
	for _, n := range []int{1, 2, 4, 16} {
		for i := 0; i < 50; i++ {
			id := fmt.Sprintf("device-%d", i)
			s := shardFor(id, n)
			if s < 0 || s >= n {
				t.Fatalf("shardFor(%q, %d) = %d out of range", id, n, s)
			}
			if s != shardFor(id, n) {
				t.Fatalf("shardFor(%q, %d) not stable", id, n)
			}
		}
	}
}

func TestDispatcher_PerDeviceOrder(t *testing.T) {
	const devices = 8
	const perDevice = 100

	var mu sync.Mutex
	seen := make(map[string][]string)
	var wg sync.WaitGroup
	wg.Add(devices * perDevice)

	d := startDispatcher(t, funcHandler(func(_ context.Context, topic string, payload []byte) error {
		defer wg.Done()
		mu.Lock()
		seen[topic] = append(seen[topic], string(payload))
		mu.Unlock()
		return nil
	}), Options{Workers: 3, QueueSize: devices * perDevice})

	for i := 0; i < perDevice; i++ {
		for dev := 0; dev < devices; dev++ {
			topic := fmt.Sprintf("dev/%d", dev)
			if err := d.Dispatch(topic, []byte(fmt.Sprint(i))); err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
		}
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for topic, payloads := range seen {
		for i, p := range payloads {
			if p != fmt.Sprint(i) {
				t.Fatalf("%s message %d = %s, want %d (out of order)", topic, i, p, i)
			}
		}
	}
	if len(seen) != devices {
		t.Errorf("devices seen = %d, want %d", len(seen), devices)
	}
}

func TestDispatcher_DevicesDoNotBlockEachOther(t *testing.T) {
	slow, fast := idsOnDifferentShards(t, 2)

	release := make(chan struct{})
	fastDone := make(chan struct{})
	d := startDispatcher(t, funcHandler(func(_ context.Context, topic string, _ []byte) error {
		switch topic {
		case "dev/" + slow:
			<-release
		case "dev/" + fast:
			close(fastDone)
		}
		return nil
	}), Options{Workers: 2, QueueSize: 4})

	d.Dispatch("dev/"+slow, nil)
	d.Dispatch("dev/"+fast, nil)

	select {
	case <-fastDone:
	case <-time.After(2 * time.Second):
		t.Fatal("fast device blocked behind slow device")
	}
	close(release)
}

func TestDispatcher_QueueFull(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	d := startDispatcher(t, funcHandler(func(context.Context, string, []byte) error {
		entered <- struct{}{}
		<-release
		return nil
	}), Options{Workers: 1, QueueSize: 1})
	defer close(release)

	if err := d.Dispatch("dev/a", nil); err != nil {
		t.Fatalf("first Dispatch() error = %v", err)
	}
	<-entered

	if err := d.Dispatch("dev/a", nil); err != nil {
		t.Fatalf("second Dispatch() error = %v", err)
	}

	err := d.Dispatch("dev/a", nil)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third Dispatch() error = %v, want ErrQueueFull", err)
	}
	if stats := d.Stats(); stats.Dropped != 1 || stats.Queued != 1 {
		t.Errorf("Stats() = %+v, want 1 dropped and 1 queued", stats)
	}
}

// warnRecorder keeps the key/value args of every Warn call.
type warnRecorder struct {
	noopLogger
	mu    sync.Mutex
	warns []map[string]any
}

func (r *warnRecorder) Warn(_ string, args ...any) {
	kv := make(map[string]any)
	for i := 0; i+1 < len(args); i += 2 {
		kv[fmt.Sprint(args[i])] = args[i+1]
	}
	r.mu.Lock()
	r.warns = append(r.warns, kv)
	r.mu.Unlock()
}

func (r *warnRecorder) all() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]any(nil), r.warns...)
}

func TestDispatcher_QueueFullWarningIsRateLimited(t *testing.T) {
	logger := &warnRecorder{}
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	d := NewDispatcher(prefixRouter{}, funcHandler(func(context.Context, string, []byte) error {
		entered <- struct{}{}
		<-release
		return nil
	}), Options{Workers: 1, QueueSize: 1, DropLogInterval: 10 * time.Second, Logger: logger})

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return clock }
	d.Start(context.Background())
	t.Cleanup(func() {
		close(release)
		d.Stop(time.Second)
	})

	if err := d.Receive("dev/a", nil); err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	<-entered
	if err := d.Receive("dev/a", nil); err != nil {
		t.Fatalf("Receive() error = %v", err)
	}

	// Queue is now full; every further message is dropped.
	for i := 0; i < 5; i++ {
		if err := d.Receive("dev/a", nil); err != nil {
			t.Fatalf("Receive() on full queue error = %v, want nil", err)
		}
	}
	if warns := logger.all(); len(warns) != 1 {
		t.Fatalf("warnings = %d, want 1 within the interval", len(warns))
	}

	clock = clock.Add(11 * time.Second)
	d.Receive("dev/a", nil)

	warns := logger.all()
	if len(warns) != 2 {
		t.Fatalf("warnings = %d, want 2 after the interval", len(warns))
	}
	if warns[1]["suppressed"] != uint64(4) || warns[1]["device"] != "a" {
		t.Errorf("second warning = %v, want 4 suppressed for device a", warns[1])
	}
	if got := d.Stats().Dropped; got != 6 {
		t.Errorf("Dropped = %d, want 6", got)
	}
}

func TestDispatcher_ReceivePassesOtherErrors(t *testing.T) {
	d := NewDispatcher(prefixRouter{}, funcHandler(func(context.Context, string, []byte) error { return nil }), Options{})

	if err := d.Receive("dev/a", nil); !errors.Is(err, ErrDispatcherStopped) {
		t.Errorf("Receive() before Start error = %v, want ErrDispatcherStopped", err)
	}
}

func TestDispatcher_UnroutedTopic(t *testing.T) {
	called := false
	d := startDispatcher(t, funcHandler(func(context.Context, string, []byte) error {
		called = true
		return nil
	}), Options{})

	if err := d.Dispatch("zigbee2mqtt/bridge/state", []byte("online")); err != nil {
		t.Errorf("Dispatch() error = %v, want nil", err)
	}
	if err := d.Stop(time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if called {
		t.Error("handler called for unrouted topic")
	}
	if d.Stats().Unrouted != 1 {
		t.Errorf("Unrouted = %d, want 1", d.Stats().Unrouted)
	}
}

func TestDispatcher_NotRunning(t *testing.T) {
	d := NewDispatcher(prefixRouter{}, funcHandler(func(context.Context, string, []byte) error { return nil }), Options{})

	if err := d.Dispatch("dev/a", nil); !errors.Is(err, ErrDispatcherStopped) {
		t.Errorf("Dispatch() before Start error = %v, want ErrDispatcherStopped", err)
	}
	if err := d.Stop(time.Second); err != nil {
		t.Errorf("Stop() before Start error = %v", err)
	}

	// Start after Stop has no effect.
	d.Start(context.Background())
	if err := d.Dispatch("dev/a", nil); !errors.Is(err, ErrDispatcherStopped) {
		t.Errorf("Dispatch() after Stop error = %v, want ErrDispatcherStopped", err)
	}
}

func TestDispatcher_StopDrains(t *testing.T) {
	var mu sync.Mutex
	handled := 0
	d := NewDispatcher(prefixRouter{}, funcHandler(func(context.Context, string, []byte) error {
		time.Sleep(time.Millisecond)
		mu.Lock()
		handled++
		mu.Unlock()
		return nil
	}), Options{Workers: 2, QueueSize: 32})
	d.Start(context.Background())

	for i := 0; i < 20; i++ {
		if err := d.Dispatch(fmt.Sprintf("dev/%d", i%4), nil); err != nil {
			t.Fatalf("Dispatch() error = %v", err)
		}
	}

	if err := d.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if handled != 20 {
		t.Errorf("handled = %d, want 20", handled)
	}
	if err := d.Dispatch("dev/0", nil); !errors.Is(err, ErrDispatcherStopped) {
		t.Errorf("Dispatch() after Stop error = %v, want ErrDispatcherStopped", err)
	}
	if err := d.Stop(time.Second); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestDispatcher_StopTimeoutCancels(t *testing.T) {
	cancelled := make(chan struct{})
	d := NewDispatcher(prefixRouter{}, funcHandler(func(ctx context.Context, _ string, _ []byte) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}), Options{Workers: 1, QueueSize: 4})
	d.Start(context.Background())

	d.Dispatch("dev/a", nil)
	d.Dispatch("dev/a", nil)

	err := d.Stop(50 * time.Millisecond)
	if !errors.Is(err, ErrDrainTimeout) {
		t.Fatalf("Stop() error = %v, want ErrDrainTimeout", err)
	}

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight handler was not cancelled")
	}
}

func TestDispatcher_ParentCancelDoesNotAbortHandlers(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	var handlerErr error
	done := make(chan struct{})
	d := NewDispatcher(prefixRouter{}, funcHandler(func(ctx context.Context, _ string, _ []byte) error {
		handlerErr = ctx.Err()
		close(done)
		return nil
	}), Options{Workers: 1, QueueSize: 1})
	d.Start(parent)
	cancel()

	d.Dispatch("dev/a", nil)
	<-done
	if handlerErr != nil {
		t.Errorf("handler context error = %v, want nil after parent cancel", handlerErr)
	}
	d.Stop(time.Second)
}

func TestDispatcher_RecoversPanic(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	var wg sync.WaitGroup
	wg.Add(2)

	d := startDispatcher(t, funcHandler(func(_ context.Context, _ string, payload []byte) error {
		defer wg.Done()
		mu.Lock()
		calls = append(calls, string(payload))
		mu.Unlock()
		if string(payload) == "boom" {
			panic("boom")
		}
		return nil
	}), Options{Workers: 1, QueueSize: 4})

	d.Dispatch("dev/a", []byte("boom"))
	d.Dispatch("dev/a", []byte("ok"))
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 {
		t.Errorf("calls = %v, want worker to survive panic", calls)
	}
	if d.Stats().Failed < 1 {
		t.Errorf("Failed = %d, want at least 1", d.Stats().Failed)
	}
}

func TestDispatcher_EndToEnd(t *testing.T) {
	f := newFixture(t)
	d := NewDispatcher(f.registry, f.handler, Options{Workers: 2, QueueSize: 16})
	d.Start(context.Background())

	d.Dispatch(sensorTopic, []byte(`{"temperature": 21.6}`))
	d.Dispatch(valveTopic, []byte(`{"local_temperature": 18, "local_temperature_calibration": 1}`))
	d.Dispatch("zigbee2mqtt/bedroom/temp_sensor", []byte(`{"temperature":`))

	if err := d.Stop(2 * time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	got := f.transport.sent(setTopic)
	if len(got) != 1 || got[0] != "4.5" {
		t.Errorf("published = %v, want [4.5]", got)
	}

	stats := d.Stats()
	if stats.Dispatched != 3 || stats.Processed != 3 || stats.Failed != 1 {
		t.Errorf("Stats() = %+v, want 3 dispatched, 3 processed, 1 failed", stats)
	}
}
