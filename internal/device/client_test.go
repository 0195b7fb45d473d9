package device

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeDevice is a minimal line-oriented TCP server standing in for the
// video server. Each accepted connection is handled by fn.
type fakeDevice struct {
	listener net.Listener
	wg       sync.WaitGroup
}

func newFakeDevice(t *testing.T, fn func(conn net.Conn)) *fakeDevice {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	fd := &fakeDevice{listener: listener}
	fd.wg.Add(1)
	go func() {
		defer fd.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			fd.wg.Add(1)
			go func() {
				defer fd.wg.Done()
				defer conn.Close()
				fn(conn)
			}()
		}
	}()

	t.Cleanup(func() {
		listener.Close()
		fd.wg.Wait()
	})
	return fd
}

func (fd *fakeDevice) addr() string {
	return fd.listener.Addr().String()
}

func testClient(addr string) *Client {
	cfg := DefaultConfig(addr)
	cfg.CommandTimeout = 500 * time.Millisecond
	cfg.ReconnectAttempts = 2
	cfg.ReconnectDelay = 20 * time.Millisecond
	cfg.DialTimeout = time.Second
	return New(cfg, zerolog.Nop())
}

func TestConnectAndFireAndForget(t *testing.T) {
	received := make(chan string, 10)
	fd := newFakeDevice(t, func(conn net.Conn) {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			received <- scanner.Text()
		}
	})

	client := testClient(fd.addr())
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !client.IsConnected() {
		t.Fatal("expected connected state")
	}

	if err := client.Play(1, "intro.mov"); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if err := client.Stop(1); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	want := []string{"PLAY 1 intro.mov", "STOP 1"}
	for _, expected := range want {
		select {
		case got := <-received:
			if got != expected {
				t.Fatalf("device received %q, want %q", got, expected)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("device never received %q", expected)
		}
	}
}

func TestSendCommandCorrelatedResponse(t *testing.T) {
	fd := newFakeDevice(t, func(conn net.Conn) {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			fields := strings.Fields(scanner.Text())
			if len(fields) >= 2 && fields[0] == "REQ" {
				conn.Write([]byte("RSP " + fields[1] + " 200 clip1.mov|clip2.mov\r\n"))
			}
		}
	})

	client := testClient(fd.addr())
	defer client.Close()

	entries, err := client.ListMedia(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("ListMedia: %v", err)
	}
	if len(entries) != 2 || entries[0] != "clip1.mov" || entries[1] != "clip2.mov" {
		t.Fatalf("unexpected media listing: %v", entries)
	}
}

func TestSendCommandRejectedCode(t *testing.T) {
	fd := newFakeDevice(t, func(conn net.Conn) {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			fields := strings.Fields(scanner.Text())
			if len(fields) >= 2 && fields[0] == "REQ" {
				conn.Write([]byte("RSP " + fields[1] + " 404 no such media\r\n"))
			}
		}
	})

	client := testClient(fd.addr())
	defer client.Close()

	resp, err := client.SendCommand(context.Background(), "LIST", time.Second)
	if !errors.Is(err, ErrCommandRejected) {
		t.Fatalf("expected ErrCommandRejected, got %v", err)
	}
	if resp.Code != 404 {
		t.Fatalf("expected code 404, got %d", resp.Code)
	}
}

func TestSendCommandTimeoutAssumesSuccess(t *testing.T) {
	// Device that swallows everything without responding.
	fd := newFakeDevice(t, func(conn net.Conn) {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
		}
	})

	client := testClient(fd.addr())
	defer client.Close()

	resp, err := client.SendCommand(context.Background(), "CUE 1 bumper.mov", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if !resp.AssumedSuccess {
		t.Fatal("expected assumed success on silent device")
	}
	if resp.Code != 200 {
		t.Fatalf("expected code 200, got %d", resp.Code)
	}
}

func TestSendCommandFragmentedResponse(t *testing.T) {
	// Response arrives split across multiple writes, ending mid-line noise.
	fd := newFakeDevice(t, func(conn net.Conn) {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			fields := strings.Fields(scanner.Text())
			if len(fields) >= 2 && fields[0] == "REQ" {
				full := "RSP " + fields[1] + " 200 ok\r\n"
				conn.Write([]byte(full[:7]))
				time.Sleep(20 * time.Millisecond)
				conn.Write([]byte(full[7:]))
			}
		}
	})

	client := testClient(fd.addr())
	defer client.Close()

	resp, err := client.SendCommand(context.Background(), "STAT", time.Second)
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if resp.AssumedSuccess {
		t.Fatal("expected real response, not assumed success")
	}
	if resp.Payload != "ok" {
		t.Fatalf("payload = %q, want %q", resp.Payload, "ok")
	}
}

func TestReconnectAfterConnectionLoss(t *testing.T) {
	var mu sync.Mutex
	accepted := 0
	fd := newFakeDevice(t, func(conn net.Conn) {
		mu.Lock()
		accepted++
		first := accepted == 1
		mu.Unlock()

		if first {
			// Drop the first connection immediately.
			return
		}
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
		}
	})

	client := testClient(fd.addr())
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if client.IsConnected() {
			mu.Lock()
			n := accepted
			mu.Unlock()
			if n >= 2 {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("client never reconnected after connection loss")
}

func TestCloseFailsPendingAndRejectsCommands(t *testing.T) {
	fd := newFakeDevice(t, func(conn net.Conn) {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
		}
	})

	client := testClient(fd.addr())
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := client.Play(1, "x.mov"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
	if _, err := client.SendCommand(context.Background(), "LIST", time.Second); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

func TestConnectIdempotent(t *testing.T) {
	fd := newFakeDevice(t, func(conn net.Conn) {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
		}
	})

	client := testClient(fd.addr())
	defer client.Close()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = client.Connect(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("concurrent Connect %d: %v", i, err)
		}
	}
	if !client.IsConnected() {
		t.Fatal("expected connected state")
	}
}

func TestDisconnectOfReplacedConnClosesIt(t *testing.T) {
	client := testClient("127.0.0.1:1")
	defer client.Close()

	current, currentPeer := net.Pipe()
	defer current.Close()
	defer currentPeer.Close()
	stale, stalePeer := net.Pipe()
	defer stalePeer.Close()

	client.mu.Lock()
	client.conn = current
	client.state = StateConnected
	client.mu.Unlock()

	// A read loop reporting an error for a socket that was already
	// replaced by a newer connection must still release that socket.
	client.handleDisconnect(stale, errors.New("connection reset"))

	stalePeer.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := stalePeer.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("stale peer read error = %v, want io.EOF", err)
	}

	// The live connection is untouched.
	if client.State() != StateConnected {
		t.Fatalf("state = %v, want %v", client.State(), StateConnected)
	}
	currentPeer.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
	if _, err := currentPeer.Read(make([]byte, 1)); !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("live peer read error = %v, want deadline exceeded", err)
	}
}
