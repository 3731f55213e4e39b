package elm327_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/obd2diag/elmcore/pkg/elm327"
	"github.com/obd2diag/elmcore/pkg/transport/mock"
)

func newInitializedEngine(t *testing.T, fixture mock.Fixture) (*elm327.Engine, *mock.Connection) {
	t.Helper()

	if fixture == nil {
		fixture = mock.Fixture{}
	}
	for _, cmd := range []string{"ATZ", "ATE0", "ATL0", "ATS0", "ATH1", "ATSP0"} {
		if cmd == "ATZ" {
			fixture[cmd] = []byte("ELM327 v1.5\r\r>")
			continue
		}
		fixture[cmd] = []byte("OK\r\r>")
	}

	conn := mock.New(fixture)
	if err := conn.Open(context.Background()); err != nil {
		t.Fatalf("conn.Open() error = %v", err)
	}

	eng := elm327.New(conn, time.Second)
	if err := eng.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return eng, conn
}

func TestInitialize_S4(t *testing.T) {
	_, conn := newInitializedEngine(t, nil)

	want := []string{"ATZ", "ATE0", "ATL0", "ATS0", "ATH1", "ATSP0"}
	if len(conn.CallLog) != len(want) {
		t.Fatalf("CallLog = %v, want %v", conn.CallLog, want)
	}
	for i, cmd := range want {
		if conn.CallLog[i] != cmd {
			t.Errorf("CallLog[%d] = %q, want %q", i, conn.CallLog[i], cmd)
		}
	}
}

func TestSendUDSMessage_S1_SpacedResponse(t *testing.T) {
	fixture := mock.Fixture{
		"ATSH 7E4": []byte("OK\r\r>"),
		"220101": []byte("SEARCHING...\r" +
			"7EC 10 3E 62 01 01 EF FB E7 \r" +
			"7EC 21 ED 69 00 00 00 00 00 \r" +
			"7EC 22 00 00 0E 26 0D 0C 0D \r" +
			"7EC 23 0D 0D 00 00 00 34 BC \r" +
			"7EC 24 18 BC 56 00 00 7C 00 \r" +
			"7EC 25 02 DE 80 00 02 C9 55 \r" +
			"7EC 26 00 01 19 AF 00 01 07 \r" +
			"7EC 27 C3 00 EC 65 6F 00 00 \r" +
			"7EC 28 03 00 00 00 00 0B B8 \r" +
			">"),
	}
	eng, _ := newInitializedEngine(t, fixture)

	resp, err := eng.SendUDSMessage(context.Background(), 0x7E4, 0x22, []byte{0x01, 0x01})
	if err != nil {
		t.Fatalf("SendUDSMessage() error = %v", err)
	}

	if resp.ServiceEcho != 0x62 {
		t.Errorf("ServiceEcho = 0x%02X, want 0x62", resp.ServiceEcho)
	}
	if resp.DataIdentifier == nil || *resp.DataIdentifier != 0x0101 {
		t.Fatalf("DataIdentifier = %v, want 0x0101", resp.DataIdentifier)
	}
	if len(resp.Payload) < 5 {
		t.Fatalf("payload too short: %x", resp.Payload)
	}
	if resp.Payload[4] != 0x69 {
		t.Errorf("payload[4] = 0x%02X, want 0x69", resp.Payload[4])
	}
}

func TestSendUDSMessage_S2_NoData(t *testing.T) {
	fixture := mock.Fixture{
		"ATSH 7E4": []byte("OK\r\r>"),
		"220101":   []byte("SEARCHING...\rNO DATA\r>"),
	}
	eng, _ := newInitializedEngine(t, fixture)

	_, err := eng.SendUDSMessage(context.Background(), 0x7E4, 0x22, []byte{0x01, 0x01})
	var nre *elm327.NoResponseError
	if !errors.As(err, &nre) {
		t.Fatalf("SendUDSMessage() error = %v (%T), want *NoResponseError", err, err)
	}
	if nre.Token != "NO DATA" {
		t.Errorf("Token = %q, want %q", nre.Token, "NO DATA")
	}
}

func TestSendUDSMessage_S3_CompactResponse(t *testing.T) {
	fixture := mock.Fixture{
		"ATSH 7E4": []byte("OK\r\r>"),
		"010d":     []byte("7EC06410D000000\r>"),
	}
	eng, _ := newInitializedEngine(t, fixture)

	resp, err := eng.SendUDSMessage(context.Background(), 0x7E4, 0x01, []byte{0x0D})
	if err != nil {
		t.Fatalf("SendUDSMessage() error = %v", err)
	}
	if resp.ServiceEcho != 0x41 {
		t.Errorf("ServiceEcho = 0x%02X, want 0x41", resp.ServiceEcho)
	}
}

func TestSendUDSMessage_NegativeResponse(t *testing.T) {
	fixture := mock.Fixture{
		"ATSH 7E4": []byte("OK\r\r>"),
		"220101":   []byte("7EC037F2231\r>"),
	}
	eng, _ := newInitializedEngine(t, fixture)

	_, err := eng.SendUDSMessage(context.Background(), 0x7E4, 0x22, []byte{0x01, 0x01})
	var nre *elm327.NegativeResponseError
	if !errors.As(err, &nre) {
		t.Fatalf("SendUDSMessage() error = %v (%T), want *NegativeResponseError", err, err)
	}
	if nre.NRC != 0x31 {
		t.Errorf("NRC = 0x%02X, want 0x31", nre.NRC)
	}
}

func TestTesterPresent_S5(t *testing.T) {
	fixture := mock.Fixture{
		"ATSH 7E4": []byte("OK\r\r>"),
		"220101":   []byte("7EC0462010169\r>"),
		"3E00":     []byte("7EC017E00\r>"),
	}
	eng, conn := newInitializedEngine(t, fixture)

	// Establish an active header so tester-present ticks have one to use.
	if _, err := eng.SendUDSMessage(context.Background(), 0x7E4, 0x22, []byte{0x01, 0x01}); err != nil {
		t.Fatalf("SendUDSMessage() error = %v", err)
	}

	eng.StartTesterPresent(50 * time.Millisecond)
	time.Sleep(220 * time.Millisecond)
	eng.StopTesterPresent()

	count := 0
	for _, cmd := range conn.CallLog {
		if cmd == "3E00" {
			count++
		}
	}
	if count < 2 {
		t.Fatalf("observed %d 3E00 ticks, want at least 2", count)
	}

	afterStop := count
	time.Sleep(150 * time.Millisecond)

	count = 0
	for _, cmd := range conn.CallLog {
		if cmd == "3E00" {
			count++
		}
	}
	if count != afterStop {
		t.Fatalf("tester-present kept ticking after Stop: %d -> %d", afterStop, count)
	}
}
