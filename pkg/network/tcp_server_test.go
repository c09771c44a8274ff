package network

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Diffblue-benchmarks/hydra/pkg/client"
	"github.com/Diffblue-benchmarks/hydra/pkg/store"
)

func startTestServer(t *testing.T) (*TCPServer, string) {
	t.Helper()

	backing, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("open backing store: %v", err)
	}
	st, err := store.OpenBytes(backing, store.Options{MaxEntries: 16, MinEntries: 4, CachePages: 8})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	srv := NewTCPServer(st)
	go srv.Start("127.0.0.1:0")
	t.Cleanup(srv.Stop)

	// Wait for the listener to come up.
	for i := 0; i < 100; i++ {
		if addr := srv.Addr(); addr != nil {
			return srv, addr.String()
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("server did not start listening")
	return nil, ""
}

func TestPutGetDeleteOverTCP(t *testing.T) {
	_, addr := startTestServer(t)

	c, err := client.Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if err := c.Put([]byte("name"), []byte("hydra")); err != nil {
		t.Fatalf("put: %v", err)
	}
	val, err := c.Get([]byte("name"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(val, []byte("hydra")) {
		t.Fatalf("get returned %q", val)
	}

	if err := c.Delete([]byte("name")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.Get([]byte("name")); !errors.Is(err, client.ErrNotFound) {
		t.Fatalf("get after delete: want ErrNotFound, got %v", err)
	}

	// Removing an absent key is a no-op, not an error.
	if err := c.Delete([]byte("never-existed")); err != nil {
		t.Fatalf("delete missing key: %v", err)
	}
}

func TestScanOverTCP(t *testing.T) {
	_, addr := startTestServer(t)

	c, err := client.Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key:%03d", i))
		if err := c.Put(key, []byte(fmt.Sprintf("val%d", i))); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	records, err := c.Scan([]byte("key:010"), 10)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(records) != 10 {
		t.Fatalf("scan returned %d records, want 10", len(records))
	}
	for i, r := range records {
		want := fmt.Sprintf("key:%03d", 10+i)
		if string(r.Key) != want {
			t.Fatalf("record %d key %q, want %q", i, r.Key, want)
		}
	}

	// Unlimited scan from the start covers everything.
	all, err := c.Scan(nil, 0)
	if err != nil {
		t.Fatalf("unlimited scan: %v", err)
	}
	if len(all) != 50 {
		t.Fatalf("unlimited scan returned %d records, want 50", len(all))
	}
}

func TestNextFirstKeyOverTCP(t *testing.T) {
	_, addr := startTestServer(t)

	c, err := client.Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	// Enough keys to force several page splits at MaxEntries=16.
	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("key:%03d", i))
		if err := c.Put(key, []byte("v")); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	// Walk the page boundaries; the walk must terminate with ErrNotFound.
	cursor := []byte("key:000")
	hops := 0
	for {
		next, err := c.NextFirstKey(cursor)
		if errors.Is(err, client.ErrNotFound) {
			break
		}
		if err != nil {
			t.Fatalf("next first key: %v", err)
		}
		if bytes.Compare(next, cursor) <= 0 {
			t.Fatalf("boundary walk went backwards: %q after %q", next, cursor)
		}
		cursor = next
		hops++
		if hops > 100 {
			t.Fatal("boundary walk did not terminate")
		}
	}
	if hops < 2 {
		t.Fatalf("boundary walk saw %d pages, want several splits", hops)
	}
}

func TestClientReconnects(t *testing.T) {
	_, addr := startTestServer(t)

	c, err := client.Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if err := c.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Kill the connection out from under the client; the next call must
	// transparently redial.
	c.Close()
	val, err := c.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get after broken connection: %v", err)
	}
	if !bytes.Equal(val, []byte("v")) {
		t.Fatalf("get returned %q", val)
	}
}
