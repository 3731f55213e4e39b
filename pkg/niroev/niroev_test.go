package niroev_test

import (
	"math"
	"testing"

	"github.com/obd2diag/elmcore/pkg/niroev"
)

func approxEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestSOC(t *testing.T) {
	// spec.md §8 S1: payload[4] = 0x69 -> 0x69 / 2 = 52.5%.
	payload := []byte{0x62, 0x01, 0x01, 0x69, 0x69, 0x00}
	got, err := niroev.SOC(payload)
	if err != nil {
		t.Fatalf("SOC() error = %v", err)
	}
	if !approxEqual(got, 52.5) {
		t.Errorf("SOC() = %v, want 52.5", got)
	}
}

func TestSOC_ShortPayload(t *testing.T) {
	if _, err := niroev.SOC([]byte{0x01, 0x02}); err == nil {
		t.Fatal("SOC() expected error for short payload, got nil")
	}
}

func TestBatteryVoltage(t *testing.T) {
	payload := make([]byte, 14)
	payload[12] = 0x0C
	payload[13] = 0x1C // 0x0C1C = 3100 -> 310.0V
	got, err := niroev.BatteryVoltage(payload)
	if err != nil {
		t.Fatalf("BatteryVoltage() error = %v", err)
	}
	if !approxEqual(got, 310.0) {
		t.Errorf("BatteryVoltage() = %v, want 310.0", got)
	}
}

func TestBatteryCurrent_Discharging(t *testing.T) {
	payload := make([]byte, 12)
	payload[10] = 0x00
	payload[11] = 0x64 // 100 -> 10.0A discharging
	got, err := niroev.BatteryCurrent(payload)
	if err != nil {
		t.Fatalf("BatteryCurrent() error = %v", err)
	}
	if !approxEqual(got, 10.0) {
		t.Errorf("BatteryCurrent() = %v, want 10.0", got)
	}
}

func TestBatteryCurrent_Charging(t *testing.T) {
	payload := make([]byte, 12)
	payload[10] = 0xFF // -1 high byte
	payload[11] = 0x9C // raw = -1*256+156 = -100 -> -10.0A
	got, err := niroev.BatteryCurrent(payload)
	if err != nil {
		t.Fatalf("BatteryCurrent() error = %v", err)
	}
	if !approxEqual(got, -10.0) {
		t.Errorf("BatteryCurrent() = %v, want -10.0", got)
	}
}

func TestCellVoltage_RangeValidation(t *testing.T) {
	payload := make([]byte, 40)
	payload[4] = 150 // cell 1 -> byte index 1+3=4

	got, err := niroev.CellVoltage(payload, 1, 0x0102)
	if err != nil {
		t.Fatalf("CellVoltage() error = %v", err)
	}
	if !approxEqual(got, 3.0) {
		t.Errorf("CellVoltage() = %v, want 3.0", got)
	}

	if _, err := niroev.CellVoltage(payload, 1, 0x0103); err == nil {
		t.Fatal("CellVoltage() expected error for mismatched PID, got nil")
	}
	if _, err := niroev.CellVoltage(payload, 0, 0x0102); err == nil {
		t.Fatal("CellVoltage() expected error for out-of-range cell, got nil")
	}
	if _, err := niroev.CellVoltage(payload, 99, 0x0105); err == nil {
		t.Fatal("CellVoltage() expected error for out-of-range cell, got nil")
	}
}

func TestCellVoltage_LastBank(t *testing.T) {
	payload := make([]byte, 36)
	payload[34] = 145 // cell 97 -> byte index (97-97)+34=34
	payload[35] = 148 // cell 98 -> byte index 35

	v97, err := niroev.CellVoltage(payload, 97, 0x0105)
	if err != nil {
		t.Fatalf("CellVoltage(97) error = %v", err)
	}
	if !approxEqual(v97, 2.9) {
		t.Errorf("CellVoltage(97) = %v, want 2.9", v97)
	}

	v98, err := niroev.CellVoltage(payload, 98, 0x0105)
	if err != nil {
		t.Fatalf("CellVoltage(98) error = %v", err)
	}
	if !approxEqual(v98, 2.96) {
		t.Errorf("CellVoltage(98) = %v, want 2.96", v98)
	}
}

func TestMaxMinCellVoltage(t *testing.T) {
	payload := make([]byte, 27)
	payload[23] = 150 // max voltage raw -> 3.0V
	payload[24] = 12  // max voltage cell number
	payload[25] = 140 // min voltage raw -> 2.8V
	payload[26] = 55  // min voltage cell number

	max, err := niroev.MaxCellVoltage(payload)
	if err != nil {
		t.Fatalf("MaxCellVoltage() error = %v", err)
	}
	if !approxEqual(max.Voltage, 3.0) || max.Cell != 12 {
		t.Errorf("MaxCellVoltage() = %+v, want {3.0 12}", max)
	}

	min, err := niroev.MinCellVoltage(payload)
	if err != nil {
		t.Fatalf("MinCellVoltage() error = %v", err)
	}
	if !approxEqual(min.Voltage, 2.8) || min.Cell != 55 {
		t.Errorf("MinCellVoltage() = %+v, want {2.8 55}", min)
	}
}

func TestSOH(t *testing.T) {
	payload := make([]byte, 27)
	payload[25] = 0x03
	payload[26] = 0xE8 // 0x03E8 = 1000 -> 100.0%
	got, err := niroev.SOH(payload)
	if err != nil {
		t.Fatalf("SOH() error = %v", err)
	}
	if !approxEqual(got, 100.0) {
		t.Errorf("SOH() = %v, want 100.0", got)
	}
}

func TestDecodeBatteryTemperatures(t *testing.T) {
	payload := make([]byte, 23)
	payload[14] = 30       // max
	payload[15] = 28       // min
	payload[16] = 29       // module 1
	payload[17] = 29       // module 2
	payload[18] = 28       // module 3
	payload[19] = 29       // module 4
	inletTemp := int8(-5) // inlet, negative
	payload[22] = byte(inletTemp)

	got, err := niroev.DecodeBatteryTemperatures(payload)
	if err != nil {
		t.Fatalf("DecodeBatteryTemperatures() error = %v", err)
	}
	if got.Max != 30 || got.Min != 28 || got.Inlet != -5 {
		t.Errorf("DecodeBatteryTemperatures() = %+v", got)
	}
}
