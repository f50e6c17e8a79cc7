package pdu

import (
	"encoding/binary"
	"fmt"
)

// PDU is implemented by every decoded PDU variant. Type returns the wire
// type code so callers (the command engine's receiver loop) can switch on
// it without a further type assertion.
type PDU interface {
	Type() uint8
}

// Codec packs and unpacks PDUs for one connection's negotiated parameters.
// It is stateless beyond those parameters and holds no socket.
type Codec struct {
	HeaderDigest bool
	DataDigest   bool
	PDAlignment  uint8 // PDA: data alignment granularity in 4-byte units
	MaxPDU       uint32
}

func padTo(n, align int) int {
	if align <= 1 {
		return 0
	}
	rem := n % align
	if rem == 0 {
		return 0
	}
	return align - rem
}

// --- ICReq / ICResp -------------------------------------------------------

const icFixedLen = 128 // common header(8) + fixed body(120), never digested

type ICReq struct {
	PFV          uint16
	HPDA         uint8 // host PDU data alignment, 4-byte units
	DigestEnable uint8 // bit0 HDGST-enable, bit1 DDGST-enable (offered)
	MaxR2T       uint32
}

func (ICReq) Type() uint8 { return TypeICReq }

func (r ICReq) Encode() []byte {
	buf := make([]byte, icFixedLen)
	Header{Type: TypeICReq, HLen: icFixedLen, PDO: 0, PLen: icFixedLen}.Encode(buf)
	binary.LittleEndian.PutUint16(buf[8:10], r.PFV)
	buf[10] = r.HPDA
	buf[11] = r.DigestEnable
	binary.LittleEndian.PutUint32(buf[12:16], r.MaxR2T)
	return buf
}

func DecodeICReq(body []byte) (ICReq, error) {
	if len(body) < icFixedLen-CommonHeaderLen {
		return ICReq{}, ErrShortBuffer
	}
	return ICReq{
		PFV:          binary.LittleEndian.Uint16(body[0:2]),
		HPDA:         body[2],
		DigestEnable: body[3],
		MaxR2T:       binary.LittleEndian.Uint32(body[4:8]),
	}, nil
}

type ICResp struct {
	PFV          uint16
	CPDA         uint8
	DigestEnable uint8
	MaxH2CData   uint32
}

func (ICResp) Type() uint8 { return TypeICResp }

func (r ICResp) Encode() []byte {
	buf := make([]byte, icFixedLen)
	Header{Type: TypeICResp, HLen: icFixedLen, PDO: 0, PLen: icFixedLen}.Encode(buf)
	binary.LittleEndian.PutUint16(buf[8:10], r.PFV)
	buf[10] = r.CPDA
	buf[11] = r.DigestEnable
	binary.LittleEndian.PutUint32(buf[12:16], r.MaxH2CData)
	return buf
}

func DecodeICResp(body []byte) (ICResp, error) {
	if len(body) < icFixedLen-CommonHeaderLen {
		return ICResp{}, ErrShortBuffer
	}
	return ICResp{
		PFV:          binary.LittleEndian.Uint16(body[0:2]),
		CPDA:         body[2],
		DigestEnable: body[3],
		MaxH2CData:   binary.LittleEndian.Uint32(body[4:8]),
	}, nil
}

// --- Capsule Command / Response ------------------------------------------

const sqeLen = 64
const cqeLen = 16
const capsuleCmdBaseHLen = CommonHeaderLen + sqeLen  // 72
const capsuleRespBaseHLen = CommonHeaderLen + cqeLen // 24

// CapsuleCmd carries one 64-byte SQE plus optional in-capsule data at
// offset PDO from the start of the PDU.
type CapsuleCmd struct {
	SQE  [sqeLen]byte
	Data []byte // in-capsule data, may be empty
}

func (CapsuleCmd) Type() uint8 { return TypeCapsuleCmd }

// Encode serialises the capsule according to the codec's negotiated
// digest settings and PDA. Returns the full PLEN-sized wire block.
func (c *Codec) EncodeCapsuleCmd(p CapsuleCmd) []byte {
	hlen := capsuleCmdBaseHLen
	flags := uint8(0)
	if c.HeaderDigest {
		hlen += DigestLen
		flags |= FlagHDGST
	}
	pdo := 0
	if len(p.Data) > 0 {
		pad := padTo(hlen, int(c.PDAlignment)*4)
		pdo = hlen + pad
	}
	dataLen := len(p.Data)
	ddgst := 0
	if c.DataDigest && dataLen > 0 {
		flags |= FlagDDGST
		ddgst = DigestLen
	}
	plen := hlen
	if dataLen > 0 {
		plen = pdo + dataLen + ddgst
	}
	buf := make([]byte, plen)
	Header{Type: TypeCapsuleCmd, Flags: flags, HLen: uint8(hlen), PDO: uint8(pdo), PLen: uint32(plen)}.Encode(buf)
	copy(buf[CommonHeaderLen:CommonHeaderLen+sqeLen], p.SQE[:])
	if c.HeaderDigest {
		d := ComputeDigest(buf[:capsuleCmdBaseHLen])
		copy(buf[capsuleCmdBaseHLen:hlen], d[:])
	}
	if dataLen > 0 {
		copy(buf[pdo:pdo+dataLen], p.Data)
		if c.DataDigest {
			d := ComputeDigest(buf[pdo : pdo+dataLen])
			copy(buf[pdo+dataLen:], d[:])
		}
	}
	return buf
}

// DecodeCapsuleCmd parses a full PDU (header already validated) into a
// CapsuleCmd, verifying digests per the codec's negotiated settings.
func (c *Codec) DecodeCapsuleCmd(h Header, body []byte) (CapsuleCmd, error) {
	hlen := int(h.HLen)
	baseHLen := capsuleCmdBaseHLen
	if len(body)+CommonHeaderLen < baseHLen {
		return CapsuleCmd{}, ErrShortBuffer
	}
	var out CapsuleCmd
	copy(out.SQE[:], body[:sqeLen])
	offsetInBody := hlen - CommonHeaderLen
	if h.HasHDGST() {
		if len(body) < offsetInBody {
			return CapsuleCmd{}, ErrShortBuffer
		}
		if !VerifyDigest(prependHeader(h, body[:baseHLen-CommonHeaderLen]), body[baseHLen-CommonHeaderLen:offsetInBody]) {
			return CapsuleCmd{}, fmt.Errorf("pdu: header digest mismatch")
		}
	}
	dataStart := int(h.PDO) - CommonHeaderLen
	if dataStart < offsetInBody {
		dataStart = offsetInBody
	}
	if dataStart >= len(body) {
		return out, nil
	}
	dataEnd := len(body)
	if h.HasDDGST() {
		if dataEnd-dataStart < DigestLen {
			return CapsuleCmd{}, ErrShortBuffer
		}
		dataEnd -= DigestLen
		if !VerifyDigest(body[dataStart:dataEnd], body[dataEnd:dataEnd+DigestLen]) {
			return CapsuleCmd{}, fmt.Errorf("pdu: data digest mismatch")
		}
	}
	out.Data = append([]byte(nil), body[dataStart:dataEnd]...)
	return out, nil
}

// prependHeader reconstructs the raw 8-byte header bytes for digest
// verification purposes (digest excludes itself, not the header).
func prependHeader(h Header, rest []byte) []byte {
	buf := make([]byte, CommonHeaderLen+len(rest))
	h.Encode(buf)
	copy(buf[CommonHeaderLen:], rest)
	return buf
}

// CapsuleResp carries one 16-byte CQE, no data.
type CapsuleResp struct {
	CQE [cqeLen]byte
}

func (CapsuleResp) Type() uint8 { return TypeCapsuleResp }

func (c *Codec) EncodeCapsuleResp(p CapsuleResp) []byte {
	hlen := capsuleRespBaseHLen
	flags := uint8(0)
	if c.HeaderDigest {
		hlen += DigestLen
		flags |= FlagHDGST
	}
	buf := make([]byte, hlen)
	Header{Type: TypeCapsuleResp, Flags: flags, HLen: uint8(hlen), PLen: uint32(hlen)}.Encode(buf)
	copy(buf[CommonHeaderLen:CommonHeaderLen+cqeLen], p.CQE[:])
	if c.HeaderDigest {
		d := ComputeDigest(buf[:capsuleRespBaseHLen])
		copy(buf[capsuleRespBaseHLen:], d[:])
	}
	return buf
}

func (c *Codec) DecodeCapsuleResp(h Header, body []byte) (CapsuleResp, error) {
	if len(body) < cqeLen {
		return CapsuleResp{}, ErrShortBuffer
	}
	var out CapsuleResp
	copy(out.CQE[:], body[:cqeLen])
	if h.HasHDGST() {
		if len(body) < cqeLen+DigestLen {
			return CapsuleResp{}, ErrShortBuffer
		}
		if !VerifyDigest(prependHeader(h, body[:cqeLen]), body[cqeLen:cqeLen+DigestLen]) {
			return CapsuleResp{}, fmt.Errorf("pdu: header digest mismatch")
		}
	}
	return out, nil
}

// --- H2C / C2H Data --------------------------------------------------------

const dataPDUBaseHLen = CommonHeaderLen + 16 // 24

// DataPDU is the shared shape of H2CData and C2HData bodies: a
// command-id, data offset, data length, and the bytes themselves.
type DataPDU struct {
	CommandID uint16
	DataOff   uint32
	DataLen   uint32
	Last      bool // final segment of the transfer (H2CData and C2HData)
	Success   bool // for C2HData: controller is piggy-backing an implicit CQE
	Data      []byte
}

type H2CData DataPDU

func (H2CData) Type() uint8 { return TypeH2CData }

type C2HData DataPDU

func (C2HData) Type() uint8 { return TypeC2HData }

func (c *Codec) encodeDataPDU(typ uint8, d DataPDU) []byte {
	hlen := dataPDUBaseHLen
	flags := uint8(0)
	if c.HeaderDigest {
		hlen += DigestLen
		flags |= FlagHDGST
	}
	if d.Last {
		flags |= FlagLast
	}
	if typ == TypeC2HData && d.Success {
		flags |= FlagC2HSuccess
	}
	pad := padTo(hlen, int(c.PDAlignment)*4)
	pdo := hlen + pad
	ddgst := 0
	if c.DataDigest && len(d.Data) > 0 {
		flags |= FlagDDGST
		ddgst = DigestLen
	}
	plen := pdo + len(d.Data) + ddgst
	buf := make([]byte, plen)
	Header{Type: typ, Flags: flags, HLen: uint8(hlen), PDO: uint8(pdo), PLen: uint32(plen)}.Encode(buf)
	binary.LittleEndian.PutUint16(buf[8:10], d.CommandID)
	binary.LittleEndian.PutUint32(buf[12:16], d.DataOff)
	binary.LittleEndian.PutUint32(buf[16:20], d.DataLen)
	if c.HeaderDigest {
		dg := ComputeDigest(buf[:dataPDUBaseHLen])
		copy(buf[dataPDUBaseHLen:hlen], dg[:])
	}
	copy(buf[pdo:pdo+len(d.Data)], d.Data)
	if ddgst > 0 {
		dg := ComputeDigest(buf[pdo : pdo+len(d.Data)])
		copy(buf[pdo+len(d.Data):], dg[:])
	}
	return buf
}

func (c *Codec) EncodeH2CData(d H2CData) []byte { return c.encodeDataPDU(TypeH2CData, DataPDU(d)) }
func (c *Codec) EncodeC2HData(d C2HData) []byte { return c.encodeDataPDU(TypeC2HData, DataPDU(d)) }

func (c *Codec) decodeDataPDU(h Header, body []byte) (DataPDU, error) {
	if len(body) < 16 {
		return DataPDU{}, ErrShortBuffer
	}
	out := DataPDU{
		CommandID: binary.LittleEndian.Uint16(body[0:2]),
		DataOff:   binary.LittleEndian.Uint32(body[4:8]),
		DataLen:   binary.LittleEndian.Uint32(body[8:12]),
		Last:      h.Flags&FlagLast != 0,
		Success:   h.Flags&FlagC2HSuccess != 0,
	}
	hlen := int(h.HLen)
	offsetInBody := hlen - CommonHeaderLen
	if h.HasHDGST() {
		if len(body) < offsetInBody {
			return DataPDU{}, ErrShortBuffer
		}
		if !VerifyDigest(prependHeader(h, body[:16]), body[16:offsetInBody]) {
			return DataPDU{}, fmt.Errorf("pdu: header digest mismatch")
		}
	}
	dataStart := int(h.PDO) - CommonHeaderLen
	if dataStart < offsetInBody {
		dataStart = offsetInBody
	}
	if dataStart > len(body) {
		return DataPDU{}, ErrShortBuffer
	}
	dataEnd := len(body)
	if h.HasDDGST() {
		if dataEnd-dataStart < DigestLen {
			return DataPDU{}, ErrShortBuffer
		}
		dataEnd -= DigestLen
		if !VerifyDigest(body[dataStart:dataEnd], body[dataEnd:dataEnd+DigestLen]) {
			return DataPDU{}, fmt.Errorf("pdu: data digest mismatch")
		}
	}
	out.Data = append([]byte(nil), body[dataStart:dataEnd]...)
	if int(out.DataLen) != len(out.Data) {
		return DataPDU{}, fmt.Errorf("pdu: datal %d does not match carried bytes %d", out.DataLen, len(out.Data))
	}
	return out, nil
}

func (c *Codec) DecodeH2CData(h Header, body []byte) (H2CData, error) {
	d, err := c.decodeDataPDU(h, body)
	return H2CData(d), err
}

func (c *Codec) DecodeC2HData(h Header, body []byte) (C2HData, error) {
	d, err := c.decodeDataPDU(h, body)
	return C2HData(d), err
}

// --- R2T --------------------------------------------------------------

type R2T struct {
	CommandID uint16
	R2TOffset uint32
	R2TLength uint32
}

func (R2T) Type() uint8 { return TypeR2T }

func (c *Codec) EncodeR2T(r R2T) []byte {
	hlen := dataPDUBaseHLen
	flags := uint8(0)
	if c.HeaderDigest {
		hlen += DigestLen
		flags |= FlagHDGST
	}
	buf := make([]byte, hlen)
	Header{Type: TypeR2T, Flags: flags, HLen: uint8(hlen), PLen: uint32(hlen)}.Encode(buf)
	binary.LittleEndian.PutUint16(buf[8:10], r.CommandID)
	binary.LittleEndian.PutUint32(buf[12:16], r.R2TOffset)
	binary.LittleEndian.PutUint32(buf[16:20], r.R2TLength)
	if c.HeaderDigest {
		d := ComputeDigest(buf[:dataPDUBaseHLen])
		copy(buf[dataPDUBaseHLen:], d[:])
	}
	return buf
}

func (c *Codec) DecodeR2T(h Header, body []byte) (R2T, error) {
	if len(body) < 16 {
		return R2T{}, ErrShortBuffer
	}
	if h.HasHDGST() {
		offsetInBody := int(h.HLen) - CommonHeaderLen
		if len(body) < offsetInBody || !VerifyDigest(prependHeader(h, body[:16]), body[16:offsetInBody]) {
			return R2T{}, fmt.Errorf("pdu: header digest mismatch")
		}
	}
	return R2T{
		CommandID: binary.LittleEndian.Uint16(body[0:2]),
		R2TOffset: binary.LittleEndian.Uint32(body[4:8]),
		R2TLength: binary.LittleEndian.Uint32(body[8:12]),
	}, nil
}

// --- KeepAlive --------------------------------------------------------

const TypeKeepAlive uint8 = 0x18

type KeepAlive struct{}

func (KeepAlive) Type() uint8 { return TypeKeepAlive }

func (c *Codec) EncodeKeepAlive() []byte {
	hlen := dataPDUBaseHLen
	flags := uint8(0)
	if c.HeaderDigest {
		hlen += DigestLen
		flags |= FlagHDGST
	}
	buf := make([]byte, hlen)
	Header{Type: TypeKeepAlive, Flags: flags, HLen: uint8(hlen), PLen: uint32(hlen)}.Encode(buf)
	if c.HeaderDigest {
		d := ComputeDigest(buf[:dataPDUBaseHLen])
		copy(buf[dataPDUBaseHLen:], d[:])
	}
	return buf
}

// --- TermReq / TermResp -------------------------------------------------

const termReqBaseHLen = CommonHeaderLen + 16 // 24

// TermReq is sent by the controller to abort the connection, carrying a
// fatal-error-status (FES) and fatal-error-information (FEI).
type TermReq struct {
	FES uint16
	FEI uint32
	// Data is any additional terminal data the controller attached
	// (PDU header of the offending PDU, truncated).
	Data []byte
}

func (TermReq) Type() uint8 { return TypeH2CTermReq }

func DecodeTermReq(h Header, body []byte) (TermReq, error) {
	if len(body) < 16 {
		return TermReq{}, ErrShortBuffer
	}
	offsetInBody := int(h.HLen) - CommonHeaderLen
	var out TermReq
	out.FES = binary.LittleEndian.Uint16(body[0:2])
	out.FEI = binary.LittleEndian.Uint32(body[4:8])
	if offsetInBody < len(body) {
		out.Data = append([]byte(nil), body[offsetInBody:]...)
	}
	return out, nil
}

// Decode dispatches on the common header's type field and returns the
// typed PDU. body excludes the 8-byte common header.
func (c *Codec) Decode(h Header, body []byte) (PDU, error) {
	switch h.Type {
	case TypeICReq:
		v, err := DecodeICReq(body)
		return v, err
	case TypeICResp:
		v, err := DecodeICResp(body)
		return v, err
	case TypeCapsuleCmd:
		return c.DecodeCapsuleCmd(h, body)
	case TypeCapsuleResp:
		return c.DecodeCapsuleResp(h, body)
	case TypeH2CData:
		return c.DecodeH2CData(h, body)
	case TypeC2HData:
		return c.DecodeC2HData(h, body)
	case TypeR2T:
		return c.DecodeR2T(h, body)
	case TypeKeepAlive:
		return KeepAlive{}, nil
	case TypeH2CTermReq, TypeC2HTermReq:
		return DecodeTermReq(h, body)
	default:
		return nil, fmt.Errorf("pdu: unhandled pdu type x%02x", h.Type)
	}
}
