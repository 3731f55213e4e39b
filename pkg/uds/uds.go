// Package uds is a thin facade over an elm327.Engine exposing UDS service
// calls by name instead of raw service/data bytes. It returns payload bytes
// only — service echo and data identifier already stripped — and leaves all
// vehicle-specific semantic decoding to collaborators such as pkg/niroev.
package uds

import (
	"context"
	"fmt"

	"github.com/obd2diag/elmcore/pkg/elm327"
)

const (
	serviceReadDataByIdentifier = 0x22
	serviceTesterPresent        = 0x3E
)

// Client issues UDS requests against one ELM327 engine.
type Client struct {
	engine *elm327.Engine
}

// New wraps engine, which must already be initialized.
func New(engine *elm327.Engine) *Client {
	return &Client{engine: engine}
}

// ReadDataByIdentifier sends UDS service 0x22 for did to target and returns
// the raw payload bytes following the echoed service and data identifier.
func (c *Client) ReadDataByIdentifier(ctx context.Context, target uint16, did uint16) ([]byte, error) {
	data := []byte{byte(did >> 8), byte(did)}

	resp, err := c.engine.SendUDSMessage(ctx, target, serviceReadDataByIdentifier, data)
	if err != nil {
		return nil, fmt.Errorf("uds: read data by identifier 0x%04X from 0x%03X: %w", did, target, err)
	}
	if resp.DataIdentifier == nil || *resp.DataIdentifier != did {
		return nil, fmt.Errorf("uds: read data by identifier 0x%04X from 0x%03X: echoed identifier %v", did, target, resp.DataIdentifier)
	}
	return resp.Payload, nil
}

// TesterPresent sends a single, synchronous UDS service 0x3E sub-function
// 0x00 to target. The response is validated like any other SendUDSMessage
// call: an adapter error token, a negative response, or a service echo
// other than 0x7E is returned as an error. Unlike this method, the engine's
// background StartTesterPresent task ignores response content.
// For continuous keep-alive use the engine's own StartTesterPresent
// instead; this method is for a one-shot ping outside that background task.
func (c *Client) TesterPresent(ctx context.Context, target uint16) error {
	if _, err := c.engine.SendUDSMessage(ctx, target, serviceTesterPresent, []byte{0x00}); err != nil {
		return fmt.Errorf("uds: tester present to 0x%03X: %w", target, err)
	}
	return nil
}
