package ble

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"tinygo.org/x/bluetooth"
)

// scanCache holds the most recent scan result set, keyed by the scan
// timeout used, so repeated Discover/DiscoverOBDDevices calls inside the
// same discovery window don't re-trigger the radio. Entries expire after
// the scan's own timeout, which matches the caller's expectation that a
// second call shortly after the first reflects the same nearby devices.
var scanCache = ttlcache.New[string, []DiscoveredDevice](
	ttlcache.WithTTL[string, []DiscoveredDevice](0), // per-item TTL set at Set time
)

var scanMu sync.Mutex

// Discover scans for nearby BLE devices for up to timeout and returns
// whatever advertisements were observed. It is the building block behind
// DiscoverOBDDevices.
func Discover(adapter *bluetooth.Adapter, timeout time.Duration) ([]DiscoveredDevice, error) {
	if adapter == nil {
		adapter = bluetooth.DefaultAdapter
	}

	cacheKey := fmt.Sprintf("scan:%s", timeout)
	scanMu.Lock()
	if item := scanCache.Get(cacheKey); item != nil {
		scanMu.Unlock()
		return item.Value(), nil
	}
	scanMu.Unlock()

	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	log.Printf("ble: scanning for %s", timeout)
	var (
		mu      sync.Mutex
		results []DiscoveredDevice
	)
	done := make(chan struct{})
	timer := time.AfterFunc(timeout, func() {
		adapter.StopScan()
		close(done)
	})
	defer timer.Stop()

	err := adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, DiscoveredDevice{
			Name:    result.LocalName(),
			Address: result.Address.String(),
			RSSI:    result.RSSI,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}

	<-done

	mu.Lock()
	out := results
	mu.Unlock()
	log.Printf("ble: scan finished, %d advertisements seen", len(out))

	scanMu.Lock()
	scanCache.Set(cacheKey, out, timeout)
	scanMu.Unlock()

	return out, nil
}

// DiscoverOBDDevices scans for advertising devices whose name matches one of
// KnownOBDNamePatterns (case-insensitive substring match), returning
// {name, address, rssi} for each match. See spec.md §4.3.
func DiscoverOBDDevices(adapter *bluetooth.Adapter, timeout time.Duration) ([]DiscoveredDevice, error) {
	all, err := Discover(adapter, timeout)
	if err != nil {
		return nil, err
	}

	var matched []DiscoveredDevice
	for _, d := range all {
		if matchesKnownOBDName(d.Name) {
			matched = append(matched, d)
		}
	}
	return matched, nil
}
