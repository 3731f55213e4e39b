// Package niroev decodes Kia Niro EV battery management system (BMS)
// parameters from raw UDS payloads. It is a collaborator, not part of the
// core: every formula here is vehicle-specific and has no bearing on the
// transport, ISO-TP, or ELM327 layers it builds on.
//
// Byte offsets and scaling factors are taken from the HKMC-EV BMS PID table
// (https://github.com/JejuSoul/OBD-PIDs-for-HKMC-EVs); offsets are relative
// to payload[0], the first byte after the echoed service and data
// identifier have already been stripped by pkg/uds.
package niroev

import (
	"context"
	"fmt"

	"github.com/obd2diag/elmcore/pkg/uds"
)

// BMS CAN IDs and data identifiers.
const (
	RequestCANID  = 0x7E4
	ResponseCANID = 0x7EC

	pidMain          = 0x0101
	pidCellVoltages1 = 0x0102 // cells 1-32
	pidCellVoltages2 = 0x0103 // cells 33-64
	pidCellVoltages3 = 0x0104 // cells 65-96
	pidCellVoltages4 = 0x0105 // cells 97-98, plus SOH
)

// BMS reads Kia Niro EV battery parameters over a UDS client already wired
// to an initialized ELM327 engine.
type BMS struct {
	client *uds.Client
}

// New wraps client for BMS reads against RequestCANID.
func New(client *uds.Client) *BMS {
	return &BMS{client: client}
}

func (b *BMS) read(ctx context.Context, pid uint16) ([]byte, error) {
	return b.client.ReadDataByIdentifier(ctx, RequestCANID, pid)
}

// SOC returns State of Charge in percent. This is the contract spec.md §4.7
// names explicitly: payload[4] / 2.
func SOC(payload []byte) (float64, error) {
	if len(payload) < 5 {
		return 0, fmt.Errorf("niroev: SOC: payload has %d bytes, need at least 5", len(payload))
	}
	return float64(payload[4]) / 2.0, nil
}

// GetSOC reads PID 0x0101 and decodes State of Charge.
func (b *BMS) GetSOC(ctx context.Context) (float64, error) {
	data, err := b.read(ctx, pidMain)
	if err != nil {
		return 0, err
	}
	return SOC(data)
}

// BatteryVoltage decodes main battery DC voltage from the PID 0x0101
// payload: ((data[12]<<8)|data[13]) / 10.
func BatteryVoltage(payload []byte) (float64, error) {
	if len(payload) < 14 {
		return 0, fmt.Errorf("niroev: battery voltage: payload has %d bytes, need at least 14", len(payload))
	}
	raw := uint16(payload[12])<<8 | uint16(payload[13])
	return float64(raw) / 10.0, nil
}

// GetBatteryVoltage reads PID 0x0101 and decodes battery voltage.
func (b *BMS) GetBatteryVoltage(ctx context.Context) (float64, error) {
	data, err := b.read(ctx, pidMain)
	if err != nil {
		return 0, err
	}
	return BatteryVoltage(data)
}

// BatteryCurrent decodes battery current in amperes (negative: charging,
// positive: discharging) from the PID 0x0101 payload: a signed 16-bit value
// at data[10:12] / 10.
func BatteryCurrent(payload []byte) (float64, error) {
	if len(payload) < 12 {
		return 0, fmt.Errorf("niroev: battery current: payload has %d bytes, need at least 12", len(payload))
	}
	high := int16(int8(payload[10]))
	raw := high*256 + int16(payload[11])
	return float64(raw) / 10.0, nil
}

// GetBatteryCurrent reads PID 0x0101 and decodes battery current.
func (b *BMS) GetBatteryCurrent(ctx context.Context) (float64, error) {
	data, err := b.read(ctx, pidMain)
	if err != nil {
		return 0, err
	}
	return BatteryCurrent(data)
}

// BatteryTemperatures decodes the PID 0x0101 payload's signed-byte
// temperature readings, in degrees Celsius.
type BatteryTemperatures struct {
	Max      int8
	Min      int8
	Module01 int8
	Module02 int8
	Module03 int8
	Module04 int8
	Inlet    int8
}

func DecodeBatteryTemperatures(payload []byte) (BatteryTemperatures, error) {
	if len(payload) < 23 {
		return BatteryTemperatures{}, fmt.Errorf("niroev: battery temperatures: payload has %d bytes, need at least 23", len(payload))
	}
	return BatteryTemperatures{
		Max:      int8(payload[14]),
		Min:      int8(payload[15]),
		Module01: int8(payload[16]),
		Module02: int8(payload[17]),
		Module03: int8(payload[18]),
		Module04: int8(payload[19]),
		Inlet:    int8(payload[22]),
	}, nil
}

// GetBatteryTemperatures reads PID 0x0101 and decodes temperature readings.
func (b *BMS) GetBatteryTemperatures(ctx context.Context) (BatteryTemperatures, error) {
	data, err := b.read(ctx, pidMain)
	if err != nil {
		return BatteryTemperatures{}, err
	}
	return DecodeBatteryTemperatures(data)
}

// CellVoltageExtreme is a (voltage, cell number) pair as reported directly
// by the BMS, rather than read back by cell index.
type CellVoltageExtreme struct {
	Voltage float64
	Cell    int
}

// MaxCellVoltage decodes the highest reporting cell from the PID 0x0101
// payload: voltage = data[23]/50, cell number = data[24].
func MaxCellVoltage(payload []byte) (CellVoltageExtreme, error) {
	if len(payload) < 25 {
		return CellVoltageExtreme{}, fmt.Errorf("niroev: max cell voltage: payload has %d bytes, need at least 25", len(payload))
	}
	return CellVoltageExtreme{Voltage: float64(payload[23]) / 50.0, Cell: int(payload[24])}, nil
}

// MinCellVoltage decodes the lowest reporting cell from the PID 0x0101
// payload: voltage = data[25]/50, cell number = data[26].
func MinCellVoltage(payload []byte) (CellVoltageExtreme, error) {
	if len(payload) < 27 {
		return CellVoltageExtreme{}, fmt.Errorf("niroev: min cell voltage: payload has %d bytes, need at least 27", len(payload))
	}
	return CellVoltageExtreme{Voltage: float64(payload[25]) / 50.0, Cell: int(payload[26])}, nil
}

// GetMaxCellVoltage reads PID 0x0101 and decodes the highest reporting cell.
func (b *BMS) GetMaxCellVoltage(ctx context.Context) (CellVoltageExtreme, error) {
	data, err := b.read(ctx, pidMain)
	if err != nil {
		return CellVoltageExtreme{}, err
	}
	return MaxCellVoltage(data)
}

// GetMinCellVoltage reads PID 0x0101 and decodes the lowest reporting cell.
func (b *BMS) GetMinCellVoltage(ctx context.Context) (CellVoltageExtreme, error) {
	data, err := b.read(ctx, pidMain)
	if err != nil {
		return CellVoltageExtreme{}, err
	}
	return MinCellVoltage(data)
}

// SOH decodes State of Health in percent from the PID 0x0105 payload:
// ((data[25]<<8)|data[26]) / 10.
func SOH(pid0105Payload []byte) (float64, error) {
	if len(pid0105Payload) < 27 {
		return 0, fmt.Errorf("niroev: SOH: payload has %d bytes, need at least 27", len(pid0105Payload))
	}
	raw := uint16(pid0105Payload[25])<<8 | uint16(pid0105Payload[26])
	return float64(raw) / 10.0, nil
}

// GetSOH reads PID 0x0105 and decodes State of Health.
func (b *BMS) GetSOH(ctx context.Context) (float64, error) {
	data, err := b.read(ctx, pidCellVoltages4)
	if err != nil {
		return 0, err
	}
	return SOH(data)
}

// CellVoltage decodes the voltage, in volts, of one of the 98 battery
// cells: cell_value / 50, at a byte offset that depends on which of the
// four cell-voltage PIDs carries it.
func CellVoltage(payload []byte, cell int, pid uint16) (float64, error) {
	offset, err := cellByteOffset(cell, pid)
	if err != nil {
		return 0, err
	}
	if len(payload) <= offset {
		return 0, fmt.Errorf("niroev: cell %d voltage: payload has %d bytes, need index %d", cell, len(payload), offset)
	}
	return float64(payload[offset]) / 50.0, nil
}

// cellByteOffset returns the byte offset for cell (1-98) within the payload
// of pid, validating that pid is the data identifier carrying that cell (a
// caller-supplied pid for the wrong range is rejected rather than silently
// read out of bounds).
func cellByteOffset(cell int, pid uint16) (int, error) {
	switch {
	case cell >= 1 && cell <= 32:
		if pid != pidCellVoltages1 {
			return 0, fmt.Errorf("niroev: cell %d is carried by PID 0x%04X, not 0x%04X", cell, pidCellVoltages1, pid)
		}
		return cell + 3, nil
	case cell >= 33 && cell <= 64:
		if pid != pidCellVoltages2 {
			return 0, fmt.Errorf("niroev: cell %d is carried by PID 0x%04X, not 0x%04X", cell, pidCellVoltages2, pid)
		}
		return (cell - 32) + 3, nil
	case cell >= 65 && cell <= 96:
		if pid != pidCellVoltages3 {
			return 0, fmt.Errorf("niroev: cell %d is carried by PID 0x%04X, not 0x%04X", cell, pidCellVoltages3, pid)
		}
		return (cell - 64) + 3, nil
	case cell == 97 || cell == 98:
		if pid != pidCellVoltages4 {
			return 0, fmt.Errorf("niroev: cell %d is carried by PID 0x%04X, not 0x%04X", cell, pidCellVoltages4, pid)
		}
		return (cell - 97) + 34, nil
	default:
		return 0, fmt.Errorf("niroev: cell number must be between 1 and 98, got %d", cell)
	}
}

// pidForCell returns the data identifier carrying cell's voltage.
func pidForCell(cell int) (uint16, error) {
	switch {
	case cell >= 1 && cell <= 32:
		return pidCellVoltages1, nil
	case cell >= 33 && cell <= 64:
		return pidCellVoltages2, nil
	case cell >= 65 && cell <= 96:
		return pidCellVoltages3, nil
	case cell == 97 || cell == 98:
		return pidCellVoltages4, nil
	default:
		return 0, fmt.Errorf("niroev: cell number must be between 1 and 98, got %d", cell)
	}
}

// GetCellVoltage reads whichever PID carries cell (1-98) and decodes its
// voltage.
func (b *BMS) GetCellVoltage(ctx context.Context, cell int) (float64, error) {
	pid, err := pidForCell(cell)
	if err != nil {
		return 0, err
	}
	data, err := b.read(ctx, pid)
	if err != nil {
		return 0, err
	}
	return CellVoltage(data, cell, pid)
}
