package network

import (
	"bytes"
	"encoding/binary"
	"io"
	"log"
	"net"

	"github.com/Diffblue-benchmarks/hydra/pkg/protocol"
	"github.com/Diffblue-benchmarks/hydra/pkg/store"
)

// KVStore is the byte-keyed store the wire surface runs against.
type KVStore = store.Store[[]byte, []byte]

type TCPServer struct {
	store    *KVStore
	listener net.Listener
}

func NewTCPServer(st *KVStore) *TCPServer {
	return &TCPServer{store: st}
}

// Start listens on addr and serves until Stop. It blocks.
func (s *TCPServer) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener
	log.Printf("[TCP] Listening on %s (Binary Protocol)", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Addr returns the bound address once Start has listened.
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *TCPServer) Stop() {
	if s.listener != nil {
		s.listener.Close()
	}
}

func (s *TCPServer) handleConn(conn net.Conn) {
	defer conn.Close()

	for {
		req, err := protocol.Decode(conn)
		if err != nil {
			if err != io.EOF {
				log.Printf("[TCP] Decode error: %v", err)
			}
			return
		}

		switch req.Op {
		case protocol.OpPut:
			if err := s.store.Put(req.Key, req.Value); err != nil {
				protocol.Encode(conn, protocol.RespErr, nil, []byte(err.Error()))
				continue
			}
			protocol.Encode(conn, protocol.RespOK, nil, nil)

		case protocol.OpGet:
			val, found, err := s.store.Get(req.Key)
			if err != nil {
				protocol.Encode(conn, protocol.RespErr, nil, []byte(err.Error()))
				continue
			}
			if found {
				protocol.Encode(conn, protocol.RespVal, nil, val)
			} else {
				protocol.Encode(conn, protocol.RespNone, nil, nil)
			}

		case protocol.OpDel:
			if err := s.store.Remove(req.Key); err != nil {
				protocol.Encode(conn, protocol.RespErr, nil, []byte(err.Error()))
				continue
			}
			protocol.Encode(conn, protocol.RespOK, nil, nil)

		case protocol.OpScan:
			// Key=StartKey, Value=[MaxCount 4B]
			limit := int(binary.BigEndian.Uint32(pad4(req.Value)))
			records, err := s.scan(req.Key, limit)
			if err != nil {
				protocol.Encode(conn, protocol.RespErr, nil, []byte(err.Error()))
				continue
			}
			protocol.Encode(conn, protocol.RespVal, nil, encodeRecords(records))

		case protocol.OpNext:
			next, ok, err := s.store.NextFirstKey(req.Key)
			if err != nil {
				protocol.Encode(conn, protocol.RespErr, nil, []byte(err.Error()))
				continue
			}
			if ok {
				protocol.Encode(conn, protocol.RespVal, nil, next)
			} else {
				protocol.Encode(conn, protocol.RespNone, nil, nil)
			}

		default:
			protocol.Encode(conn, protocol.RespErr, nil, []byte("unknown op"))
		}
	}
}

func (s *TCPServer) scan(start []byte, limit int) ([]store.Entry[[]byte, []byte], error) {
	var records []store.Entry[[]byte, []byte]
	it := s.store.Scan(start)
	for it.Next() {
		records = append(records, store.Entry[[]byte, []byte]{Key: it.Key(), Value: it.Value()})
		if limit > 0 && len(records) >= limit {
			break
		}
	}
	return records, it.Err()
}

func pad4(b []byte) []byte {
	if len(b) >= 4 {
		return b[:4]
	}
	out := make([]byte, 4)
	copy(out[4-len(b):], b)
	return out
}

// encodeRecords frames scan results:
// [Count 4B] + ( [KeyLen 2B] [Key] [ValLen 4B] [Val] ) * Count
func encodeRecords(records []store.Entry[[]byte, []byte]) []byte {
	buf := new(bytes.Buffer)

	binary.Write(buf, binary.BigEndian, uint32(len(records)))

	for _, r := range records {
		binary.Write(buf, binary.BigEndian, uint16(len(r.Key)))
		buf.Write(r.Key)
		binary.Write(buf, binary.BigEndian, uint32(len(r.Value)))
		buf.Write(r.Value)
	}
	return buf.Bytes()
}
