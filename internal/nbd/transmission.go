package nbd

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/virtnbdbackup/virtnbdbackup/internal/device"
)

type requestHeader struct {
	Magic        uint32
	CommandFlags uint16
	CommandType  uint16
	Handle       uint64
	Offset       uint64
	Length       uint32
}

func (c *Client) nextHandle() uint64 {
	c.handle++
	return c.handle
}

func (c *Client) sendRequest(cmd uint16, offset uint64, length uint32) (uint64, error) {
	handle := c.nextHandle()
	req := requestHeader{
		Magic:       requestMagic,
		CommandType: cmd,
		Handle:      handle,
		Offset:      offset,
		Length:      length,
	}
	if err := binary.Write(c.conn, binary.BigEndian, req); err != nil {
		return 0, errors.Wrap(err, "nbd: write request failed")
	}
	return handle, nil
}

// structuredChunk is one decoded structured-reply chunk.
type structuredChunk struct {
	Type   uint16
	Flags  uint16
	Handle uint64
	Data   []byte
}

// readReply reads one reply frame, transparently handling both the legacy
// simple-reply layout and the structured-reply layout negotiated in
// handshake(); it returns one chunk per call, so a caller like ReadAt loops
// until the DONE flag is seen.
func (c *Client) readReply() (structuredChunk, error) {
	magic, err := peekMagic(c.r)
	if err != nil {
		return structuredChunk{}, errors.Wrap(err, "nbd: read reply magic failed")
	}

	switch magic {
	case simpleReplyMagic:
		var hdr struct {
			Magic  uint32
			Error  uint32
			Handle uint64
		}
		if err := binary.Read(c.r, binary.BigEndian, &hdr); err != nil {
			return structuredChunk{}, errors.Wrap(err, "nbd: read simple reply failed")
		}
		if hdr.Error != 0 {
			return structuredChunk{}, NewProtocolError("nbd: simple reply error %d", hdr.Error)
		}
		return structuredChunk{Type: replyTypeNone, Flags: replyFlagDone, Handle: hdr.Handle}, nil

	case structuredReplyMagic:
		var hdr struct {
			Magic  uint32
			Flags  uint16
			Type   uint16
			Handle uint64
			Length uint32
		}
		if err := binary.Read(c.r, binary.BigEndian, &hdr); err != nil {
			return structuredChunk{}, errors.Wrap(err, "nbd: read structured reply header failed")
		}
		payload := make([]byte, hdr.Length)
		if _, err := io.ReadFull(c.r, payload); err != nil {
			return structuredChunk{}, errors.Wrap(err, "nbd: read structured reply payload failed")
		}
		if hdr.Type == replyTypeError || hdr.Type == replyTypeErrorOffset {
			return structuredChunk{}, NewProtocolError("nbd: structured reply error chunk (type %d)", hdr.Type)
		}
		return structuredChunk{Type: hdr.Type, Flags: hdr.Flags, Handle: hdr.Handle, Data: payload}, nil

	default:
		return structuredChunk{}, NewProtocolError("nbd: unrecognized reply magic %x", magic)
	}
}

func peekMagic(r *bufio.Reader) (uint32, error) {
	b, err := r.Peek(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// ReadAt implements device.BlockDevice.
func (c *Client) ReadAt(ctx context.Context, offset, length uint64) ([]byte, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	handle, err := c.sendRequest(cmdRead, offset, uint32(length))
	if err != nil {
		return nil, err
	}

	out := make([]byte, length)
	for {
		chunk, err := c.readReply()
		if err != nil {
			return nil, err
		}
		if chunk.Handle != handle {
			return nil, NewProtocolError("nbd: reply handle mismatch: got %d want %d", chunk.Handle, handle)
		}
		if chunk.Type == replyTypeOffsetData {
			if len(chunk.Data) < 8 {
				return nil, NewProtocolError("nbd: truncated offset-data chunk")
			}
			chunkOffset := binary.BigEndian.Uint64(chunk.Data[:8])
			data := chunk.Data[8:]
			relative := chunkOffset - offset
			copy(out[relative:], data)
		} else if chunk.Type == replyTypeOffsetHole {
			if len(chunk.Data) < 12 {
				return nil, NewProtocolError("nbd: truncated offset-hole chunk")
			}
			chunkOffset := binary.BigEndian.Uint64(chunk.Data[:8])
			holeLen := binary.BigEndian.Uint32(chunk.Data[8:12])
			relative := chunkOffset - offset
			for i := uint32(0); i < holeLen; i++ {
				out[relative+uint64(i)] = 0
			}
		}
		if chunk.Flags&replyFlagDone != 0 {
			break
		}
	}
	return out, nil
}

// WriteAt implements device.BlockDevice.
func (c *Client) WriteAt(ctx context.Context, offset uint64, p []byte) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	handle, err := c.sendRequest(cmdWrite, offset, uint32(len(p)))
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(p); err != nil {
		return errors.Wrap(err, "nbd: write payload failed")
	}

	chunk, err := c.readReply()
	if err != nil {
		return err
	}
	if chunk.Handle != handle {
		return NewProtocolError("nbd: reply handle mismatch: got %d want %d", chunk.Handle, handle)
	}
	return nil
}

// ZeroAt implements device.BlockDevice using NBD_CMD_WRITE_ZEROES.
func (c *Client) ZeroAt(ctx context.Context, offset, length uint64) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	handle, err := c.sendRequest(cmdWriteZeroes, offset, uint32(length))
	if err != nil {
		return err
	}
	chunk, err := c.readReply()
	if err != nil {
		return err
	}
	if chunk.Handle != handle {
		return NewProtocolError("nbd: reply handle mismatch: got %d want %d", chunk.Handle, handle)
	}
	return nil
}

// Extents implements device.BlockDevice via NBD_CMD_BLOCK_STATUS, decoding
// the descriptor run for the meta context registered under metaContext
// during Dial.
func (c *Client) Extents(ctx context.Context, offset, length uint64, metaContext string) ([]device.Extent, error) {
	ctxID, ok := c.metaCtxIDs[metaContext]
	if !ok {
		return nil, NewProtocolError("nbd: meta context %q was not negotiated", metaContext)
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	handle, err := c.sendRequest(cmdBlockStatus, offset, uint32(length))
	if err != nil {
		return nil, err
	}

	var extents []device.Extent
	for {
		chunk, err := c.readReply()
		if err != nil {
			return nil, err
		}
		if chunk.Handle != handle {
			return nil, NewProtocolError("nbd: reply handle mismatch: got %d want %d", chunk.Handle, handle)
		}
		if chunk.Type == replyTypeBlockStatus {
			decoded, decodeErr := decodeBlockStatus(chunk.Data, ctxID, offset)
			if decodeErr == nil {
				extents = decoded
			}
		}
		if chunk.Flags&replyFlagDone != 0 {
			break
		}
	}
	return extents, nil
}

// decodeBlockStatus parses one NBD_REPLY_TYPE_BLOCK_STATUS chunk: a 4-byte
// context id followed by (length uint32, flags uint32) descriptor pairs
// covering the requested range in order, starting at baseOffset.
func decodeBlockStatus(data []byte, wantCtxID uint32, baseOffset uint64) ([]device.Extent, error) {
	if len(data) < 4 {
		return nil, NewProtocolError("nbd: truncated block status chunk")
	}
	gotCtxID := binary.BigEndian.Uint32(data[:4])
	if gotCtxID != wantCtxID {
		return nil, nil
	}

	body := data[4:]
	if len(body)%8 != 0 {
		return nil, NewProtocolError("nbd: malformed block status descriptor list")
	}

	extents := make([]device.Extent, 0, len(body)/8)
	offset := baseOffset
	for i := 0; i < len(body); i += 8 {
		descLength := binary.BigEndian.Uint32(body[i : i+4])
		descFlags := binary.BigEndian.Uint32(body[i+4 : i+8])
		extents = append(extents, device.Extent{
			Offset: offset,
			Length: uint64(descLength),
			Data:   descFlags&blockStatusFlagHole == 0,
		})
		offset += uint64(descLength)
	}
	return extents, nil
}
