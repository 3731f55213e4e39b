package mock

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// LoadFixture decodes a Fixture previously written with SaveFixture. This
// lets an integration test record a real adapter trace once and replay it
// from disk instead of inlining a literal response table in Go source.
func LoadFixture(path string) (Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mock: read fixture %s: %w", path, err)
	}

	var fixture Fixture
	if err := cbor.Unmarshal(raw, &fixture); err != nil {
		return nil, fmt.Errorf("mock: decode fixture %s: %w", path, err)
	}
	return fixture, nil
}

// SaveFixture encodes fixture as CBOR and writes it to path.
func SaveFixture(path string, fixture Fixture) error {
	raw, err := cbor.Marshal(fixture)
	if err != nil {
		return fmt.Errorf("mock: encode fixture: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("mock: write fixture %s: %w", path, err)
	}
	return nil
}
