package nvmetcp

import (
	"context"

	"github.com/go-nvmetcp/nvmetcp/internal/sqe"
	"github.com/go-nvmetcp/nvmetcp/pkg/engine"
)

// Feature identifiers (FID) this client names explicitly; any other
// value may still be passed through GetFeatures/SetFeatures.
const (
	FeatureAsyncEventConfig uint8 = 0x0B
)

// GetFeatures issues Admin Get Features (opcode 0x0A) for fid against
// nsid and returns the selector-dependent DW0 value. payload, when
// non-nil, receives any accompanying data-in payload some features
// return (e.g. the LBA Range Type feature); pass nil when the feature
// has no data payload.
func (c *Client) GetFeatures(ctx context.Context, fid uint8, nsid uint32, payload []byte) (uint32, error) {
	var sqeValue sqe.SQE
	sqeValue.NSID = nsid
	sqeValue.CDW10 = uint32(fid)
	if payload != nil {
		sqeValue.SGL1 = sqe.SGLDescriptor(uint32(len(payload)))
	}
	cqeValue, _, err := c.submit(ctx, engine.AdminOpcodeGetFeatures, sqeValue, payload, nil)
	if err != nil {
		return 0, err
	}
	return cqeValue.DW0, nil
}

// SetFeatures issues Admin Set Features (opcode 0x09) for fid against
// nsid with the given value in CDW11, returning the value the
// controller reports back in CQE.DW0.
func (c *Client) SetFeatures(ctx context.Context, fid uint8, value uint32, nsid uint32) (uint32, error) {
	var sqeValue sqe.SQE
	sqeValue.NSID = nsid
	sqeValue.CDW10 = uint32(fid)
	sqeValue.CDW11 = value
	cqeValue, _, err := c.submit(ctx, engine.AdminOpcodeSetFeatures, sqeValue, nil, nil)
	if err != nil {
		return 0, err
	}
	return cqeValue.DW0, nil
}

// EnableAsyncEvents sets the Asynchronous Event Configuration feature
// (FID=0x0B) to mask, selecting which event types trigger an AEN
// completion.
func (c *Client) EnableAsyncEvents(ctx context.Context, mask uint32) error {
	_, err := c.SetFeatures(ctx, FeatureAsyncEventConfig, mask, 0)
	return err
}
