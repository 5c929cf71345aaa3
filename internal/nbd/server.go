package nbd

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/wal-g/tracelog"
)

// Backend is the read-only data source a Server exports: the mapper's block
// map (internal/blockmap.Mapper), grounded on spec.md §4.G's pread/size
// contract. Only NBD_CMD_READ and NBD_CMD_DISC are meaningful against a
// read-only export; every write-family command is refused.
type Backend interface {
	Size() uint64
	ReadAt(ctx context.Context, offset, length uint64) ([]byte, error)
}

// Server is a minimal single-export, read-only NBD server: fixed newstyle
// negotiation, structured replies, one goroutine per connection (spec.md
// §4.G "uses a parallel thread model (reads are independent)" translated to
// Go's goroutine-per-connection idiom rather than an OS thread pool).
type Server struct {
	ExportName string
	Backend    Backend

	// BlockSize, if non-zero, is advertised to clients via NBD_INFO_BLOCK_SIZE
	// during NBD_OPT_GO negotiation and enforced as a hard cap on read length
	// in the transmission loop. This is the "blocksize filter whose maxlen ≤
	// the smallest block length" spec.md §4.G step 5 calls for: a well-behaved
	// client (the Linux kernel nbd driver included) never issues a read larger
	// than the advertised maximum, so a request spanning a block boundary is
	// prevented rather than merely caught after the fact by Backend.ReadAt's
	// own UnexpectedBlockRangeError.
	BlockSize uint32
}

// Serve accepts connections on l until ctx is cancelled or l.Accept fails.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return errors.Wrap(err, "nbd: accept failed")
			}
		}
		session := uuid.New().String()
		go func() {
			if err := s.serveConn(ctx, session, conn); err != nil && err != io.EOF {
				tracelog.WarningLogger.Printf("nbd: session %s (%s) closed: %v", session, conn.RemoteAddr(), err)
			}
		}()
	}
}

// serveConn drives one client connection end to end. session identifies the
// connection in log lines for the lifetime of the process; it carries no
// protocol meaning to the client itself.
func (s *Server) serveConn(ctx context.Context, session string, conn net.Conn) error {
	defer conn.Close()
	r := bufio.NewReader(conn)
	tracelog.InfoLogger.Printf("nbd: session %s (%s) connected, export %q", session, conn.RemoteAddr(), s.ExportName)

	if err := s.handshake(r, conn); err != nil {
		return err
	}
	return s.transmissionLoop(ctx, r, conn)
}

// handshake speaks the server side of fixed newstyle negotiation: send the
// handshake header, read client flags, then loop option requests until
// NBD_OPT_GO (or NBD_OPT_EXPORT_NAME) selects the single export this server
// advertises.
func (s *Server) handshake(r *bufio.Reader, w io.Writer) error {
	header := struct {
		Magic       uint64
		OptsMagic   uint64
		GlobalFlags uint16
	}{nbdMagic, cliservMagic, flagFixedNewstyle | flagNoZeroes}
	if err := binary.Write(w, binary.BigEndian, header); err != nil {
		return errors.Wrap(err, "nbd: write handshake header failed")
	}

	var clientFlags uint32
	if err := binary.Read(r, binary.BigEndian, &clientFlags); err != nil {
		return errors.Wrap(err, "nbd: read client flags failed")
	}
	if clientFlags&flagCFixedNewstyle == 0 {
		return NewProtocolError("nbd: client does not support fixed newstyle negotiation")
	}

	for {
		var req struct {
			Magic  uint64
			Option uint32
			Length uint32
		}
		if err := binary.Read(r, binary.BigEndian, &req); err != nil {
			return errors.Wrap(err, "nbd: read option header failed")
		}
		if req.Magic != optsMagic {
			return NewProtocolError("nbd: bad option magic %x", req.Magic)
		}
		payload := make([]byte, req.Length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return errors.Wrap(err, "nbd: read option payload failed")
		}

		switch req.Option {
		case optStructuredReply:
			if err := s.writeOptReply(w, req.Option, repAck, nil); err != nil {
				return err
			}
		case optGo, optExportName:
			if err := s.replyExportInfo(w, req.Option); err != nil {
				return err
			}
			return nil
		case optAbort:
			s.writeOptReply(w, req.Option, repAck, nil)
			return errors.New("nbd: client aborted negotiation")
		default:
			if err := s.writeOptReply(w, req.Option, repErrUnsup, nil); err != nil {
				return err
			}
		}
	}
}

func (s *Server) writeOptReply(w io.Writer, option, replyType uint32, payload []byte) error {
	reply := struct {
		Magic  uint64
		Option uint32
		Type   uint32
		Length uint32
	}{repMagic, option, replyType, uint32(len(payload))}
	if err := binary.Write(w, binary.BigEndian, reply); err != nil {
		return errors.Wrap(err, "nbd: write option reply header failed")
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return errors.Wrap(err, "nbd: write option reply payload failed")
		}
	}
	return nil
}

// replyExportInfo answers NBD_OPT_GO/NBD_OPT_EXPORT_NAME with the single
// export's size and read-only transmission flags, then acks.
func (s *Server) replyExportInfo(w io.Writer, option uint32) error {
	info := exportInfo{
		Size:              s.Backend.Size(),
		TransmissionFlags: transmitFlagHasFlags | nbdFlagReadOnly,
	}

	if option == optExportName {
		return binary.Write(w, binary.BigEndian, info)
	}

	infoPayload := make([]byte, 2+8+2)
	binary.BigEndian.PutUint16(infoPayload[0:2], nbdInfoExport)
	binary.BigEndian.PutUint64(infoPayload[2:10], info.Size)
	binary.BigEndian.PutUint16(infoPayload[10:12], info.TransmissionFlags)
	if err := s.writeOptReply(w, option, repInfo, infoPayload); err != nil {
		return err
	}

	if s.BlockSize > 0 {
		blockSizePayload := make([]byte, 2+4+4+4)
		binary.BigEndian.PutUint16(blockSizePayload[0:2], nbdInfoBlockSize)
		binary.BigEndian.PutUint32(blockSizePayload[2:6], 1)             // minimum
		binary.BigEndian.PutUint32(blockSizePayload[6:10], s.BlockSize)  // preferred
		binary.BigEndian.PutUint32(blockSizePayload[10:14], s.BlockSize) // maximum
		if err := s.writeOptReply(w, option, repInfo, blockSizePayload); err != nil {
			return err
		}
	}
	return s.writeOptReply(w, option, repAck, nil)
}

// transmissionLoop serves NBD_CMD_READ against the Backend and rejects
// every write-family command with EROFS, since a mapped stream is
// inherently read-only (spec.md §4.G "read-only").
func (s *Server) transmissionLoop(ctx context.Context, r *bufio.Reader, w io.Writer) error {
	for {
		var req requestHeader
		if err := binary.Read(r, binary.BigEndian, &req); err != nil {
			return err
		}
		if req.Magic != requestMagic {
			return NewProtocolError("nbd: bad request magic %x", req.Magic)
		}

		switch req.CommandType {
		case cmdDisc:
			return nil

		case cmdRead:
			if s.BlockSize > 0 && req.Length > s.BlockSize {
				tracelog.WarningLogger.Printf(
					"nbd: rejecting read of %d bytes exceeding advertised block size %d", req.Length, s.BlockSize)
				if err := s.writeStructuredError(w, req.Handle, errInval); err != nil {
					return err
				}
				continue
			}
			data, err := s.Backend.ReadAt(ctx, req.Offset, uint64(req.Length))
			if err != nil {
				tracelog.ErrorLogger.Printf("nbd: read at offset %d failed: %v", req.Offset, err)
				if err := s.writeStructuredError(w, req.Handle, errIO); err != nil {
					return err
				}
				continue
			}
			if err := s.writeStructuredDataReply(w, req.Handle, req.Offset, data); err != nil {
				return err
			}

		default:
			if err := s.writeStructuredError(w, req.Handle, errROFS); err != nil {
				return err
			}
		}
	}
}

// writeStructuredDataReply sends a single NBD_REPLY_TYPE_OFFSET_DATA chunk
// carrying the whole read, marked done. The client (internal/nbd.Client)
// always negotiates structured replies during handshake, so every read
// reply here uses the structured format rather than the legacy simple
// reply.
func (s *Server) writeStructuredDataReply(w io.Writer, handle, offset uint64, data []byte) error {
	payload := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(payload[:8], offset)
	copy(payload[8:], data)

	hdr := struct {
		Magic  uint32
		Flags  uint16
		Type   uint16
		Handle uint64
		Length uint32
	}{structuredReplyMagic, replyFlagDone, replyTypeOffsetData, handle, uint32(len(payload))}
	if err := binary.Write(w, binary.BigEndian, hdr); err != nil {
		return errors.Wrap(err, "nbd: write structured reply header failed")
	}
	_, err := w.Write(payload)
	return errors.Wrap(err, "nbd: write structured reply payload failed")
}

// writeStructuredError sends a done, empty-message NBD_REPLY_TYPE_ERROR
// chunk.
func (s *Server) writeStructuredError(w io.Writer, handle uint64, errno uint32) error {
	payload := make([]byte, 4+2)
	binary.BigEndian.PutUint32(payload[:4], errno)

	hdr := struct {
		Magic  uint32
		Flags  uint16
		Type   uint16
		Handle uint64
		Length uint32
	}{structuredReplyMagic, replyFlagDone, replyTypeError, handle, uint32(len(payload))}
	if err := binary.Write(w, binary.BigEndian, hdr); err != nil {
		return errors.Wrap(err, "nbd: write structured error header failed")
	}
	_, err := w.Write(payload)
	return errors.Wrap(err, "nbd: write structured error payload failed")
}
