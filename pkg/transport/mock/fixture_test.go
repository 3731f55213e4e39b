package mock_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/obd2diag/elmcore/pkg/transport/mock"
)

func TestSaveLoadFixture_RoundTrip(t *testing.T) {
	want := mock.Fixture{
		"ATZ":    []byte("ELM327 v1.5\r\r>"),
		"ATE0":   []byte("OK\r\r>"),
		"220101": []byte("7E80620010105\r\r>"),
	}

	path := filepath.Join(t.TempDir(), "fixture.cbor")
	if err := mock.SaveFixture(path, want); err != nil {
		t.Fatalf("SaveFixture() error = %v", err)
	}

	got, err := mock.LoadFixture(path)
	if err != nil {
		t.Fatalf("LoadFixture() error = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("LoadFixture() got %d entries, want %d", len(got), len(want))
	}
	for cmd, resp := range want {
		if string(got[cmd]) != string(resp) {
			t.Errorf("fixture[%q] = %q, want %q", cmd, got[cmd], resp)
		}
	}
}

func TestRecorder_CapturesExchangeAndRoundTripsThroughFixture(t *testing.T) {
	backing := mock.New(mock.Fixture{
		"ATZ":  []byte("ELM327 v1.5\r\r>"),
		"ATE0": []byte("OK\r\r>"),
	})

	rec := mock.NewRecorder(backing)
	ctx := context.Background()
	if err := rec.Open(ctx); err != nil {
		t.Fatalf("rec.Open() error = %v", err)
	}

	for _, cmd := range []string{"ATZ", "ATE0"} {
		if err := rec.Write([]byte(cmd + "\r")); err != nil {
			t.Fatalf("rec.Write(%q) error = %v", cmd, err)
		}
		if _, err := rec.ReadUntil(ctx, []byte(">")); err != nil {
			t.Fatalf("rec.ReadUntil() after %q error = %v", cmd, err)
		}
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("rec.Close() error = %v", err)
	}

	captured := rec.Fixture()
	if string(captured["ATZ"]) != "ELM327 v1.5\r\r>" {
		t.Errorf("captured ATZ response = %q", captured["ATZ"])
	}
	if string(captured["ATE0"]) != "OK\r\r>" {
		t.Errorf("captured ATE0 response = %q", captured["ATE0"])
	}

	path := filepath.Join(t.TempDir(), "recorded.cbor")
	if err := rec.Save(path); err != nil {
		t.Fatalf("rec.Save() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("recorded fixture not written: %v", err)
	}

	replayed, err := mock.LoadFixture(path)
	if err != nil {
		t.Fatalf("LoadFixture() error = %v", err)
	}
	replay := mock.New(replayed)
	if err := replay.Open(ctx); err != nil {
		t.Fatalf("replay.Open() error = %v", err)
	}
	if err := replay.Write([]byte("ATZ\r")); err != nil {
		t.Fatalf("replay.Write() error = %v", err)
	}
	resp, err := replay.ReadUntil(ctx, []byte(">"))
	if err != nil {
		t.Fatalf("replay.ReadUntil() error = %v", err)
	}
	if string(resp) != "ELM327 v1.5\r\r>" {
		t.Errorf("replay response = %q, want %q", resp, "ELM327 v1.5\r\r>")
	}
}
