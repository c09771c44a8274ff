// Package client is the Go client for the binary TCP surface.
package client

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/Diffblue-benchmarks/hydra/pkg/protocol"
)

// ErrNotFound reports an absent key (or terminal page for NextFirstKey).
var ErrNotFound = errors.New("client: not found")

// Record is one key/value pair from a scan.
type Record struct {
	Key   []byte
	Value []byte
}

type Client struct {
	conn net.Conn
	addr string
}

func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn: conn,
		addr: addr,
	}, nil
}

func (c *Client) Put(key, value []byte) error {
	resp, err := c.roundTrip(protocol.OpPut, key, value)
	if err != nil {
		return err
	}
	return expectOK(resp)
}

func (c *Client) Get(key []byte) ([]byte, error) {
	resp, err := c.roundTrip(protocol.OpGet, key, nil)
	if err != nil {
		return nil, err
	}
	switch resp.Op {
	case protocol.RespVal:
		return resp.Value, nil
	case protocol.RespNone:
		return nil, ErrNotFound
	default:
		return nil, respErr(resp)
	}
}

func (c *Client) Delete(key []byte) error {
	resp, err := c.roundTrip(protocol.OpDel, key, nil)
	if err != nil {
		return err
	}
	return expectOK(resp)
}

// Scan returns up to limit records with key >= start in key order;
// limit <= 0 means no limit.
func (c *Client) Scan(start []byte, limit int) ([]Record, error) {
	limitBuf := make([]byte, 4)
	if limit > 0 {
		binary.BigEndian.PutUint32(limitBuf, uint32(limit))
	}
	resp, err := c.roundTrip(protocol.OpScan, start, limitBuf)
	if err != nil {
		return nil, err
	}
	if resp.Op != protocol.RespVal {
		return nil, respErr(resp)
	}
	return decodeRecords(resp.Value)
}

// NextFirstKey returns the first key of the page after the one owning key.
// ErrNotFound means key's page is the last one: the caller's cursor walk
// is done.
func (c *Client) NextFirstKey(key []byte) ([]byte, error) {
	resp, err := c.roundTrip(protocol.OpNext, key, nil)
	if err != nil {
		return nil, err
	}
	switch resp.Op {
	case protocol.RespVal:
		return resp.Value, nil
	case protocol.RespNone:
		return nil, ErrNotFound
	default:
		return nil, respErr(resp)
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// roundTrip sends one request and reads one response, reconnecting once on
// a broken connection.
func (c *Client) roundTrip(op byte, key, value []byte) (*protocol.Packet, error) {
	if err := protocol.Encode(c.conn, op, key, value); err != nil {
		return c.retry(op, key, value)
	}
	resp, err := protocol.Decode(c.conn)
	if err != nil {
		return c.retry(op, key, value)
	}
	return resp, nil
}

func (c *Client) retry(op byte, key, value []byte) (*protocol.Packet, error) {
	c.conn.Close()
	conn, err := net.DialTimeout("tcp", c.addr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.conn = conn

	if err := protocol.Encode(c.conn, op, key, value); err != nil {
		return nil, err
	}
	return protocol.Decode(c.conn)
}

func expectOK(resp *protocol.Packet) error {
	if resp.Op != protocol.RespOK {
		return respErr(resp)
	}
	return nil
}

func respErr(resp *protocol.Packet) error {
	if resp.Op == protocol.RespErr {
		return fmt.Errorf("client: server error: %s", resp.Value)
	}
	return fmt.Errorf("client: unexpected response %#x", resp.Op)
}

func decodeRecords(data []byte) ([]Record, error) {
	if len(data) < 4 {
		return nil, errors.New("client: short scan payload")
	}
	count := binary.BigEndian.Uint32(data[:4])
	data = data[4:]

	records := make([]Record, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(data) < 2 {
			return nil, errors.New("client: truncated scan record")
		}
		klen := binary.BigEndian.Uint16(data[:2])
		data = data[2:]
		if len(data) < int(klen)+4 {
			return nil, errors.New("client: truncated scan record")
		}
		key := data[:klen]
		data = data[klen:]
		vlen := binary.BigEndian.Uint32(data[:4])
		data = data[4:]
		if len(data) < int(vlen) {
			return nil, errors.New("client: truncated scan record")
		}
		val := data[:vlen]
		data = data[vlen:]
		records = append(records, Record{Key: key, Value: val})
	}
	return records, nil
}
