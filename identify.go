package nvmetcp

import (
	"context"

	"github.com/go-nvmetcp/nvmetcp/internal/sqe"
	"github.com/go-nvmetcp/nvmetcp/pkg/decode"
	"github.com/go-nvmetcp/nvmetcp/pkg/engine"
)

// Identify CNS (Controller or Namespace Structure) selector values.
const (
	cnsNamespace  uint32 = 0x00
	cnsController uint32 = 0x01
	cnsNSIDList   uint32 = 0x02
)

// IdentifyController issues Admin Identify with CNS=0x01 and decodes the
// 4096-byte Identify Controller data structure.
func (c *Client) IdentifyController(ctx context.Context) (decode.ControllerInfo, error) {
	buf, err := c.identify(ctx, 0, cnsController)
	if err != nil {
		return decode.ControllerInfo{}, err
	}
	return decode.DecodeControllerInfo(buf)
}

// IdentifyNamespace issues Admin Identify with CNS=0x00 against nsid and
// decodes the 4096-byte Identify Namespace data structure.
func (c *Client) IdentifyNamespace(ctx context.Context, nsid uint32) (decode.NamespaceInfo, error) {
	buf, err := c.identify(ctx, nsid, cnsNamespace)
	if err != nil {
		return decode.NamespaceInfo{}, err
	}
	return decode.DecodeNamespaceInfo(buf)
}

// ListNamespaces issues Admin Identify with CNS=0x02 and returns the
// ordered list of active namespace IDs, stopping at the first zero
// entry per the NVMe base specification's active-NSID-list convention.
func (c *Client) ListNamespaces(ctx context.Context) ([]uint32, error) {
	buf, err := c.identify(ctx, 0, cnsNSIDList)
	if err != nil {
		return nil, err
	}
	var ids []uint32
	for off := 0; off+4 <= len(buf); off += 4 {
		id := le32(buf[off : off+4])
		if id == 0 {
			break
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Client) identify(ctx context.Context, nsid uint32, cns uint32) ([]byte, error) {
	buf := make([]byte, decode.IdentifyControllerLen)
	var sqeValue sqe.SQE
	sqeValue.NSID = nsid
	sqeValue.SGL1 = sqe.SGLDescriptor(uint32(len(buf)))
	sqeValue.CDW10 = cns
	_, data, err := c.submit(ctx, engine.AdminOpcodeIdentify, sqeValue, buf, nil)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
