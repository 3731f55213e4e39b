package main

import (
	"fmt"

	"tinygo.org/x/bluetooth"

	"github.com/obd2diag/elmcore/pkg/config"
	"github.com/obd2diag/elmcore/pkg/transport"
	"github.com/obd2diag/elmcore/pkg/transport/ble"
	"github.com/obd2diag/elmcore/pkg/transport/stream"
)

func parseBLEUUID(s string) (bluetooth.UUID, error) {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		return bluetooth.UUID{}, fmt.Errorf("invalid BLE UUID %q: %w", s, err)
	}
	return u, nil
}

// openConnection builds the transport.Connection named by conf.Backend. The
// caller owns the returned connection and must Close it.
func openConnection(conf *config.Config) (transport.Connection, error) {
	switch conf.Backend {
	case "stream":
		return stream.New(conf.Stream.Device, conf.Stream.BaudRate), nil
	case "ble":
		var opts []ble.Option
		if conf.BLE.NotifyUUID != "" && conf.BLE.WriteUUID != "" {
			notifyUUID, err := parseBLEUUID(conf.BLE.NotifyUUID)
			if err != nil {
				return nil, err
			}
			writeUUID, err := parseBLEUUID(conf.BLE.WriteUUID)
			if err != nil {
				return nil, err
			}
			opts = append(opts, ble.WithNotifyUUID(notifyUUID), ble.WithWriteUUID(writeUUID))
		}
		if conf.BLE.ServiceUUID != "" {
			serviceUUID, err := parseBLEUUID(conf.BLE.ServiceUUID)
			if err != nil {
				return nil, err
			}
			opts = append(opts, ble.WithServiceUUID(serviceUUID))
		}
		return ble.New(conf.BLE.Address, opts...), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", conf.Backend)
	}
}
