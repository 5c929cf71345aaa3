package nbd

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
)

// Client is a synchronous NBD client: one command is in flight on the wire
// at a time, guarded by cmdMu. That is sufficient for a backup/restore tool
// that already parallelizes across disks (spec.md §4.E's worker pool), not
// within a single disk's connection.
type Client struct {
	conn        net.Conn
	r           *bufio.Reader
	exportName  string
	virtualSize uint64
	txFlags     uint16
	metaCtxIDs  map[string]uint32

	cmdMu  sync.Mutex
	handle uint64
}

// Dial connects to an NBD server over the given transport (usually a unix
// socket per --socketfile) and negotiates fixed newstyle with structured
// replies, registering metaContexts (e.g. "base:allocation",
// "qemu:dirty-bitmap:virtnbdbackup.1") for later BlockStatus queries.
func Dial(ctx context.Context, network, address, exportName string, metaContexts []string) (*Client, error) {
	conn, err := DialWithRetry(ctx, func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, network, address)
	})
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:       conn,
		r:          bufio.NewReader(conn),
		exportName: exportName,
		metaCtxIDs: make(map[string]uint32),
	}

	if err := c.handshake(metaContexts); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) handshake(metaContexts []string) error {
	var header struct {
		Magic       uint64
		OptsMagic   uint64
		GlobalFlags uint16
	}
	if err := binary.Read(c.r, binary.BigEndian, &header); err != nil {
		return errors.Wrap(err, "nbd: read handshake header failed")
	}
	if header.Magic != nbdMagic || header.OptsMagic != cliservMagic {
		return NewProtocolError("nbd: unexpected handshake magic %x/%x", header.Magic, header.OptsMagic)
	}
	if header.GlobalFlags&flagFixedNewstyle == 0 {
		return NewProtocolError("nbd: server does not support fixed newstyle negotiation")
	}

	clientFlags := flagCFixedNewstyle
	if err := binary.Write(c.conn, binary.BigEndian, clientFlags); err != nil {
		return errors.Wrap(err, "nbd: write client flags failed")
	}

	if err := c.negotiateStructuredReply(); err != nil {
		return err
	}
	for _, name := range metaContexts {
		if err := c.negotiateMetaContext(name); err != nil {
			return err
		}
	}
	return c.negotiateGo()
}

func (c *Client) sendOption(option uint32, payload []byte) error {
	req := struct {
		Magic  uint64
		Option uint32
		Length uint32
	}{optsMagic, option, uint32(len(payload))}
	if err := binary.Write(c.conn, binary.BigEndian, req); err != nil {
		return errors.Wrap(err, "nbd: write option header failed")
	}
	if len(payload) > 0 {
		if _, err := c.conn.Write(payload); err != nil {
			return errors.Wrap(err, "nbd: write option payload failed")
		}
	}
	return nil
}

type optReplyHeader struct {
	Magic  uint64
	Option uint32
	Type   uint32
	Length uint32
}

func (c *Client) readOptReply() (optReplyHeader, []byte, error) {
	var reply optReplyHeader
	if err := binary.Read(c.r, binary.BigEndian, &reply); err != nil {
		return reply, nil, errors.Wrap(err, "nbd: read option reply header failed")
	}
	if reply.Magic != repMagic {
		return reply, nil, NewProtocolError("nbd: bad option reply magic %x", reply.Magic)
	}
	payload := make([]byte, reply.Length)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return reply, nil, errors.Wrap(err, "nbd: read option reply payload failed")
	}
	if reply.Type&repFlagError != 0 {
		return reply, payload, NewProtocolError("nbd: option %d rejected with error type %x", reply.Option, reply.Type)
	}
	return reply, payload, nil
}

func (c *Client) negotiateStructuredReply() error {
	if err := c.sendOption(optStructuredReply, nil); err != nil {
		return err
	}
	_, _, err := c.readOptReply()
	return err
}

func (c *Client) negotiateMetaContext(name string) error {
	payload := make([]byte, 0, 4+len(c.exportName)+4+4+len(name))
	payload = appendUint32String(payload, c.exportName)
	payload = binary.BigEndian.AppendUint32(payload, 1)
	payload = appendUint32String(payload, name)

	if err := c.sendOption(optSetMetaContext, payload); err != nil {
		return err
	}

	for {
		reply, body, err := c.readOptReply()
		if err != nil {
			return err
		}
		switch reply.Type {
		case repMetaContext:
			if len(body) < 4 {
				return NewProtocolError("nbd: truncated meta context reply for %q", name)
			}
			id := binary.BigEndian.Uint32(body[:4])
			c.metaCtxIDs[name] = id
		case repAck:
			return nil
		default:
			return NewProtocolError("nbd: unexpected reply type %d negotiating meta context %q", reply.Type, name)
		}
	}
}

func (c *Client) negotiateGo() error {
	payload := make([]byte, 0, 4+len(c.exportName)+2)
	payload = appendUint32String(payload, c.exportName)
	payload = binary.BigEndian.AppendUint16(payload, 0)

	if err := c.sendOption(optGo, payload); err != nil {
		return err
	}

	for {
		reply, body, err := c.readOptReply()
		if err != nil {
			return err
		}
		switch reply.Type {
		case repInfo:
			if len(body) < 2 {
				return NewProtocolError("nbd: truncated info reply")
			}
			infoType := binary.BigEndian.Uint16(body[:2])
			if infoType == nbdInfoExport && len(body) >= 2+8+2 {
				c.virtualSize = binary.BigEndian.Uint64(body[2:10])
				c.txFlags = binary.BigEndian.Uint16(body[10:12])
			}
		case repAck:
			return nil
		default:
			return NewProtocolError("nbd: unexpected reply type %d negotiating export %q", reply.Type, c.exportName)
		}
	}
}

func appendUint32String(dst []byte, s string) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

func (c *Client) VirtualSize() uint64 { return c.virtualSize }

// MaxRequestSize is the largest single request this client will issue;
// unlike the export's own transmission flags, NBD carries no hard maximum in
// NBD_INFO_EXPORT so this is a conservative operational constant matching
// libnbd's own default.
func (c *Client) MaxRequestSize() uint64 { return 32 << 20 }

func (c *Client) Close() error {
	return c.conn.Close()
}

// RawConn returns the underlying, already-negotiated connection. A caller
// that takes it (internal/nbd's kernel device attach path) takes over the
// connection's lifetime; Close and every other Client method become invalid
// to call afterward.
func (c *Client) RawConn() net.Conn {
	return c.conn
}
