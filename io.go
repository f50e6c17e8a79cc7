package nvmetcp

import (
	"context"

	"github.com/go-nvmetcp/nvmetcp/internal/sqe"
	"github.com/go-nvmetcp/nvmetcp/pkg/engine"
)

// ReadData issues NVM Read (opcode 0x02) for nblocks logical blocks
// starting at lba and returns nblocks*blockSize bytes. blockSize is the
// namespace's currently-selected LBA format block size (see
// decode.NamespaceInfo.BlockSize).
func (c *Client) ReadData(ctx context.Context, nsid uint32, lba uint64, nblocks uint16, blockSize uint64) ([]byte, error) {
	if nblocks == 0 {
		return nil, invalidArgument("read_data: nblocks must be > 0")
	}
	buf := make([]byte, uint64(nblocks)*blockSize)
	var sqeValue sqe.SQE
	sqeValue.NSID = nsid
	sqeValue.SGL1 = sqe.SGLDescriptor(uint32(len(buf)))
	sqeValue.CDW10 = uint32(lba)
	sqeValue.CDW11 = uint32(lba >> 32)
	sqeValue.CDW12 = uint32(nblocks) - 1
	_, data, err := c.submit(ctx, engine.NVMOpcodeRead, sqeValue, buf, nil)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// WriteData issues NVM Write (opcode 0x01) for data starting at lba.
// len(data) must be a multiple of blockSize.
func (c *Client) WriteData(ctx context.Context, nsid uint32, lba uint64, data []byte, blockSize uint64) error {
	if len(data) == 0 {
		return invalidArgument("write_data: data must not be empty")
	}
	if blockSize == 0 || uint64(len(data))%blockSize != 0 {
		return invalidArgument("write_data: data length %d is not a multiple of block size %d", len(data), blockSize)
	}
	nblocks := uint64(len(data)) / blockSize
	var sqeValue sqe.SQE
	sqeValue.NSID = nsid
	sqeValue.CDW10 = uint32(lba)
	sqeValue.CDW11 = uint32(lba >> 32)
	sqeValue.CDW12 = uint32(nblocks) - 1
	_, _, err := c.submit(ctx, engine.NVMOpcodeWrite, sqeValue, nil, data)
	return err
}

// WriteZeroes issues NVM Write Zeroes (opcode 0x08) for nblocks logical
// blocks starting at lba.
func (c *Client) WriteZeroes(ctx context.Context, nsid uint32, lba uint64, nblocks uint16) error {
	if nblocks == 0 {
		return invalidArgument("write_zeroes: nblocks must be > 0")
	}
	var sqeValue sqe.SQE
	sqeValue.NSID = nsid
	sqeValue.CDW10 = uint32(lba)
	sqeValue.CDW11 = uint32(lba >> 32)
	sqeValue.CDW12 = uint32(nblocks) - 1
	_, _, err := c.submit(ctx, engine.NVMOpcodeWriteZeroes, sqeValue, nil, nil)
	return err
}

// FlushNamespace issues NVM Flush (opcode 0x00) against nsid.
func (c *Client) FlushNamespace(ctx context.Context, nsid uint32) error {
	var sqeValue sqe.SQE
	sqeValue.NSID = nsid
	_, _, err := c.submit(ctx, engine.NVMOpcodeFlush, sqeValue, nil, nil)
	return err
}
