// Package ble bridges a Bluetooth Low Energy GATT link — packet-oriented,
// notification-driven — into the synchronous byte stream transport.Connection
// expects. A dedicated worker goroutine owns the adapter's central-role
// session; every method that touches the device, a characteristic, or the
// negotiated MTU hands that work to the worker and blocks for the result.
package ble

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/errgroup"
	"tinygo.org/x/bluetooth"

	"github.com/obd2diag/elmcore/pkg/transport"
)

// writeChunkOverhead is subtracted from the negotiated ATT MTU to get the
// maximum GATT write payload size (3 bytes of ATT write-request header).
const writeChunkOverhead = 3

// defaultMTU is assumed until the platform reports a negotiated MTU;
// conservative enough to work over the default BLE ATT_MTU of 23 bytes.
const defaultMTU = 23

// pollInterval bounds how often the read path checks rxBuf for new bytes
// without busy-spinning.
const pollInterval = 5 * time.Millisecond

// writeSubmitTimeout bounds how long Write waits for the worker goroutine,
// independent of any caller deadline (Write has no ctx parameter per the
// transport.Connection interface).
const writeSubmitTimeout = 5 * time.Second

// KnownOBDNamePatterns are advertised-name substrings (case-insensitive)
// that identify common ELM327-class BLE dongles.
var KnownOBDNamePatterns = []string{
	"ios-vlink", "obdii", "obd", "vlink", "elm327", "icar", "vgate",
}

// DiscoveredDevice describes one BLE advertisement seen during a scan.
type DiscoveredDevice struct {
	Name    string
	Address string
	RSSI    int16
}

// bleJob is one unit of work posted to the worker goroutine: run executes on
// the worker and its result is delivered on done.
type bleJob struct {
	run  func() error
	done chan error
}

// Connection is the BLE transport.Connection backend. It owns a worker
// goroutine that runs the tinygo bluetooth central session; every exported
// method that touches device/notifyCh/writeCh/mtu posts a closure to that
// goroutine over jobs and waits on the closure's done channel, subject to
// the caller's context deadline. rxBuf is the one exception: it is written
// by onNotification, which tinygo's bluetooth stack invokes on its own
// internal goroutine, so it keeps its own mutex independent of the worker.
type Connection struct {
	address     string
	serviceUUID *bluetooth.UUID
	notifyUUID  *bluetooth.UUID
	writeUUID   *bluetooth.UUID

	adapter *bluetooth.Adapter

	mu         sync.Mutex // guards open, jobs, workerDone
	open       bool
	jobs       chan bleJob
	workerDone chan struct{}

	// device, notifyCh, writeCh, and mtu are touched only from inside job
	// closures running on the worker goroutine started in Open, so they
	// need no lock of their own.
	device   bluetooth.Device
	notifyCh bluetooth.DeviceCharacteristic
	writeCh  bluetooth.DeviceCharacteristic
	mtu      int

	rxMu  sync.Mutex
	rxBuf bytes.Buffer
}

// Option customizes characteristic/service discovery.
type Option func(*Connection)

// WithServiceUUID restricts characteristic discovery to a single service,
// skipping the heuristic scan across all services.
func WithServiceUUID(u bluetooth.UUID) Option {
	return func(c *Connection) { c.serviceUUID = &u }
}

// WithNotifyUUID overrides auto-discovery of the notify/indicate
// characteristic.
func WithNotifyUUID(u bluetooth.UUID) Option {
	return func(c *Connection) { c.notifyUUID = &u }
}

// WithWriteUUID overrides auto-discovery of the write characteristic.
func WithWriteUUID(u bluetooth.UUID) Option {
	return func(c *Connection) { c.writeUUID = &u }
}

// New constructs a BLE connection to the device at address (its MAC or
// platform-specific identifier). Characteristic UUIDs are auto-discovered
// on Open unless overridden with WithNotifyUUID/WithWriteUUID.
func New(address string, opts ...Option) *Connection {
	c := &Connection{
		address: address,
		adapter: bluetooth.DefaultAdapter,
		mtu:     defaultMTU,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// runWorker drains jobs one at a time until the channel is closed, then
// closes done. It is the only goroutine that ever touches c.device,
// c.notifyCh, c.writeCh, or c.mtu.
func (c *Connection) runWorker(jobs chan bleJob, done chan struct{}) {
	defer close(done)
	for job := range jobs {
		job.done <- job.run()
	}
}

// submit posts fn to jobs and blocks for its result, honoring ctx on both
// the send and the wait so a caller's deadline is respected even if the
// worker is itself stuck inside a blocking bluetooth call.
func submit(ctx context.Context, jobs chan bleJob, fn func() error) error {
	j := bleJob{run: fn, done: make(chan error, 1)}
	select {
	case jobs <- j:
	case <-ctx.Done():
		return &transport.TimeoutError{Op: "ble_worker_submit"}
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return &transport.TimeoutError{Op: "ble_worker_wait"}
	}
}

func (c *Connection) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.open {
		c.mu.Unlock()
		return nil
	}
	jobs := make(chan bleJob)
	workerDone := make(chan struct{})
	c.jobs, c.workerDone = jobs, workerDone
	c.mu.Unlock()

	go c.runWorker(jobs, workerDone)

	if err := submit(ctx, jobs, func() error { return c.connectAndDiscover() }); err != nil {
		close(jobs)
		<-workerDone
		c.mu.Lock()
		c.jobs, c.workerDone = nil, nil
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.open = true
	c.mu.Unlock()
	c.rxMu.Lock()
	c.rxBuf.Reset()
	c.rxMu.Unlock()
	return nil
}

// connectAndDiscover runs entirely on the worker goroutine: it enables the
// adapter, connects with retry, discovers characteristics, and turns on
// notifications. Only the worker ever calls this.
func (c *Connection) connectAndDiscover() error {
	if err := c.adapter.Enable(); err != nil {
		return &transport.IoError{Op: "enable ble adapter", Err: err}
	}

	log.Printf("ble: connecting to %s", c.address)
	var device bluetooth.Device
	err := retry.Do(
		func() error {
			addr, parseErr := bluetooth.ParseMAC(c.address)
			if parseErr != nil {
				return retry.Unrecoverable(fmt.Errorf("invalid ble address %q: %w", c.address, parseErr))
			}
			d, connErr := c.adapter.Connect(bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: addr}}, bluetooth.ConnectionParams{})
			if connErr != nil {
				return connErr
			}
			device = d
			return nil
		},
		retry.Attempts(3),
		retry.Delay(250*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		log.Printf("ble: connect %s failed: %v", c.address, err)
		return &transport.IoError{Op: "connect " + c.address, Err: err}
	}

	if err := c.discoverCharacteristics(device); err != nil {
		device.Disconnect()
		return err
	}

	log.Printf("ble: enabling notifications on %s", c.notifyCh.UUID().String())
	if err := c.notifyCh.EnableNotifications(c.onNotification); err != nil {
		device.Disconnect()
		return &transport.IoError{Op: "enable notifications", Err: err}
	}

	if mtu, err := c.writeCh.GetMTU(); err == nil && int(mtu) > writeChunkOverhead {
		c.mtu = int(mtu)
	}

	c.device = device
	log.Printf("ble: connected to %s", c.address)
	return nil
}

// discoverCharacteristics implements the auto-discovery rule from spec.md
// §4.3: enumerate services/characteristics, pick the notify/indicate
// characteristic for RX and the write (with-or-without-response)
// characteristic for TX, preferring a single characteristic offering both.
// Called only from connectAndDiscover, on the worker goroutine.
func (c *Connection) discoverCharacteristics(device bluetooth.Device) error {
	if c.notifyUUID != nil && c.writeUUID != nil {
		var serviceFilter []bluetooth.UUID
		if c.serviceUUID != nil {
			serviceFilter = []bluetooth.UUID{*c.serviceUUID}
		}
		services, err := device.DiscoverServices(serviceFilter)
		if err != nil {
			return &transport.IoError{Op: "discover services", Err: err}
		}
		for _, svc := range services {
			chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{*c.notifyUUID, *c.writeUUID})
			if err != nil {
				continue
			}
			for _, ch := range chars {
				if ch.UUID() == *c.notifyUUID {
					c.notifyCh = ch
				}
				if ch.UUID() == *c.writeUUID {
					c.writeCh = ch
				}
			}
		}
		if c.notifyCh == (bluetooth.DeviceCharacteristic{}) || c.writeCh == (bluetooth.DeviceCharacteristic{}) {
			return &transport.IoError{Op: "discover characteristics", Err: fmt.Errorf("configured UUIDs not found on device")}
		}
		return nil
	}

	var serviceFilter []bluetooth.UUID
	if c.serviceUUID != nil {
		serviceFilter = []bluetooth.UUID{*c.serviceUUID}
	}
	services, err := device.DiscoverServices(serviceFilter)
	if err != nil {
		return &transport.IoError{Op: "discover services", Err: err}
	}

	var notifyFound, writeFound bool
	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			continue
		}
		for _, ch := range chars {
			props := ch.Properties()
			canNotify := props.Notify() || props.Indicate()
			canWrite := props.Write() || props.WriteWithoutResponse()
			if canNotify && canWrite {
				c.notifyCh, c.writeCh = ch, ch
				return nil
			}
			if !notifyFound && canNotify {
				c.notifyCh = ch
				notifyFound = true
			}
			if !writeFound && canWrite {
				c.writeCh = ch
				writeFound = true
			}
		}
	}

	if !notifyFound {
		return &transport.IoError{Op: "discover characteristics", Err: fmt.Errorf("no notify/indicate characteristic found")}
	}
	if !writeFound {
		return &transport.IoError{Op: "discover characteristics", Err: fmt.Errorf("no write characteristic found")}
	}
	return nil
}

// onNotification is the GATT notification callback: the sole producer into
// rxBuf. It runs on a goroutine owned by the tinygo bluetooth stack, not on
// Connection's worker, which is why rxBuf needs its own mutex. Holds are
// append-only and short.
func (c *Connection) onNotification(data []byte) {
	c.rxMu.Lock()
	c.rxBuf.Write(data)
	c.rxMu.Unlock()
}

func (c *Connection) Close() error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return nil
	}
	c.open = false
	jobs, workerDone := c.jobs, c.workerDone
	c.jobs, c.workerDone = nil, nil
	c.mu.Unlock()

	err := submit(context.Background(), jobs, func() error {
		var g errgroup.Group
		g.Go(func() error { return c.notifyCh.EnableNotifications(nil) })
		g.Go(func() error { return c.device.Disconnect() })
		return g.Wait()
	})

	close(jobs)
	<-workerDone

	c.rxMu.Lock()
	c.rxBuf.Reset()
	c.rxMu.Unlock()

	log.Printf("ble: disconnected from %s", c.address)

	if err != nil {
		return &transport.IoError{Op: "close", Err: err}
	}
	return nil
}

func (c *Connection) Write(p []byte) error {
	c.mu.Lock()
	open, jobs := c.open, c.jobs
	c.mu.Unlock()
	if !open {
		return &transport.NotOpenError{Op: "write"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeSubmitTimeout)
	defer cancel()
	return submit(ctx, jobs, func() error {
		chunk := c.mtu - writeChunkOverhead
		if chunk <= 0 {
			chunk = defaultMTU - writeChunkOverhead
		}
		for off := 0; off < len(p); off += chunk {
			end := off + chunk
			if end > len(p) {
				end = len(p)
			}
			if _, err := c.writeCh.WriteWithoutResponse(p[off:end]); err != nil {
				return &transport.IoError{Op: "write", Err: err}
			}
		}
		return nil
	})
}

func (c *Connection) isOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *Connection) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if !c.isOpen() {
		return 0, &transport.NotOpenError{Op: "read"}
	}

	c.rxMu.Lock()
	defer c.rxMu.Unlock()
	if c.rxBuf.Len() == 0 {
		return 0, &transport.TimeoutError{Op: "read"}
	}
	return c.rxBuf.Read(p)
}

func (c *Connection) ReadUntil(ctx context.Context, terminator []byte) ([]byte, error) {
	start := time.Now()
	for {
		if !c.isOpen() {
			return nil, &transport.NotOpenError{Op: "read_until"}
		}

		c.rxMu.Lock()
		if idx := bytes.Index(c.rxBuf.Bytes(), terminator); idx >= 0 {
			n := idx + len(terminator)
			out := make([]byte, n)
			copy(out, c.rxBuf.Bytes()[:n])
			c.rxBuf.Next(n)
			c.rxMu.Unlock()
			return out, nil
		}
		c.rxMu.Unlock()

		select {
		case <-ctx.Done():
			return nil, &transport.TimeoutError{Op: "read_until", Waited: time.Since(start)}
		case <-time.After(pollInterval):
		}
	}
}

func (c *Connection) FlushInput() error {
	if !c.isOpen() {
		return &transport.NotOpenError{Op: "flush_input"}
	}
	c.rxMu.Lock()
	c.rxBuf.Reset()
	c.rxMu.Unlock()
	return nil
}

// matchesKnownOBDName reports whether name contains one of
// KnownOBDNamePatterns, case-insensitively.
func matchesKnownOBDName(name string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range KnownOBDNamePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
