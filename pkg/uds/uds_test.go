package uds_test

import (
	"context"
	"testing"
	"time"

	"github.com/obd2diag/elmcore/pkg/elm327"
	"github.com/obd2diag/elmcore/pkg/transport/mock"
	"github.com/obd2diag/elmcore/pkg/uds"
)

func newClient(t *testing.T, fixture mock.Fixture) *uds.Client {
	t.Helper()

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
	return uds.New(eng)
}

func TestReadDataByIdentifier(t *testing.T) {
	fixture := mock.Fixture{
		"ATSH 7E4": []byte("OK\r\r>"),
		"220101": []byte("7EC 10 3E 62 01 01 EF FB E7 \r" +
			"7EC 21 ED 69 00 00 00 00 00 \r" +
			"7EC 22 00 00 0E 26 0D 0C 0D \r" +
			"7EC 23 0D 0D 00 00 00 34 BC \r" +
			"7EC 24 18 BC 56 00 00 7C 00 \r" +
			"7EC 25 02 DE 80 00 02 C9 55 \r" +
			"7EC 26 00 01 19 AF 00 01 07 \r" +
			"7EC 27 C3 00 EC 65 6F 00 00 \r" +
			"7EC 28 03 00 00 00 00 0B B8 \r>"),
	}

	client := newClient(t, fixture)

	payload, err := client.ReadDataByIdentifier(context.Background(), 0x7E4, 0x0101)
	if err != nil {
		t.Fatalf("ReadDataByIdentifier() error = %v", err)
	}
	if len(payload) < 5 {
		t.Fatalf("payload too short: %x", payload)
	}
	if payload[4] != 0x69 {
		t.Errorf("payload[4] = 0x%02X, want 0x69", payload[4])
	}
}

func TestTesterPresent(t *testing.T) {
	fixture := mock.Fixture{
		"ATSH 7E4": []byte("OK\r\r>"),
		"3e00":     []byte("7EC017E00\r>"),
	}
	client := newClient(t, fixture)

	if err := client.TesterPresent(context.Background(), 0x7E4); err != nil {
		t.Fatalf("TesterPresent() error = %v", err)
	}
}
