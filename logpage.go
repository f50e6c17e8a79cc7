package nvmetcp

import (
	"context"

	"github.com/go-nvmetcp/nvmetcp/internal/sqe"
	"github.com/go-nvmetcp/nvmetcp/pkg/decode"
	"github.com/go-nvmetcp/nvmetcp/pkg/engine"
)

// Get Log Page LID (Log Page Identifier) values this client recognises.
const (
	LogPageChangedNamespaceList = engine.LogPageChangedNamespaceList
	LogPageANA                  = engine.LogPageANA
	LogPageDiscovery      uint8 = 0x70
)

// GetLogPage issues Admin Get Log Page (opcode 0x02) for lid against
// nsid (0xFFFFFFFF for the controller-wide log pages) and returns size
// raw bytes. CDW10 encodes LID and the low 16 bits of NUMD (number of
// DWORDs minus 1); CDW11 encodes NUMD's high 16 bits.
func (c *Client) GetLogPage(ctx context.Context, lid uint8, nsid uint32, size uint32) ([]byte, error) {
	if size == 0 {
		return nil, invalidArgument("get_log_page: size must be > 0")
	}
	buf := make([]byte, size)
	numd := (size+3)/4 - 1 // NUMD is zero's-based DWORD count.
	var sqeValue sqe.SQE
	sqeValue.NSID = nsid
	sqeValue.SGL1 = sqe.SGLDescriptor(size)
	sqeValue.CDW10 = uint32(lid) | (numd&0xFFFF)<<16
	sqeValue.CDW11 = numd >> 16
	_, data, err := c.submit(ctx, engine.AdminOpcodeGetLogPage, sqeValue, buf, nil)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// GetANALogPage issues Get Log Page with LID=0x0C against the
// controller-wide NSID and decodes the ANA Log Page.
func (c *Client) GetANALogPage(ctx context.Context, size uint32) (decode.ANALog, error) {
	buf, err := c.GetLogPage(ctx, LogPageANA, 0xFFFFFFFF, size)
	if err != nil {
		return decode.ANALog{}, err
	}
	return decode.DecodeANALog(buf)
}

// GetDiscoveryEntries issues Get Log Page with LID=0x70 (Discovery Log
// Page) and returns up to max decoded DiscoveryEntry records.
func (c *Client) GetDiscoveryEntries(ctx context.Context, max int) ([]decode.DiscoveryEntry, error) {
	size := uint32(decode.DiscoveryLogHeaderLen + max*decode.DiscoveryEntryLen)
	buf, err := c.GetLogPage(ctx, LogPageDiscovery, 0xFFFFFFFF, size)
	if err != nil {
		return nil, err
	}
	log, err := decode.DecodeDiscoveryLog(buf)
	if err != nil {
		return nil, err
	}
	if len(log.Entries) > max {
		log.Entries = log.Entries[:max]
	}
	return log.Entries, nil
}
