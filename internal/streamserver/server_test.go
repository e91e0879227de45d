package streamserver

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/herohan/thermal-stream-server/internal/metrics"
	"github.com/herohan/thermal-stream-server/pkg/types"
)

func testConfig(maxClients int) Config {
	return Config{
		Addr:       "127.0.0.1:0",
		MaxClients: maxClients,
		Format: types.Format{
			Width:          4,
			Height:         2,
			OriginalHeight: 4,
			BytesPerPixel:  2,
			PixelFormat:    "YUV422",
		},
		FrameWait:    100 * time.Millisecond,
		WriteTimeout: 2 * time.Second,
	}
}

type callbackRecorder struct {
	mu           sync.Mutex
	startedURLs  []string
	errors       []string
	connected    []int
	disconnected []int
}

func (c *callbackRecorder) OnServerStarted(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startedURLs = append(c.startedURLs, url)
}

func (c *callbackRecorder) OnServerError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, msg)
}

func (c *callbackRecorder) OnClientConnected(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = append(c.connected, n)
}

func (c *callbackRecorder) OnClientDisconnected(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = append(c.disconnected, n)
}

func (c *callbackRecorder) counts() (connected, disconnected []int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.connected...), append([]int(nil), c.disconnected...)
}

func startServer(t *testing.T, maxClients int) (*Server, *callbackRecorder) {
	t.Helper()
	rec := &callbackRecorder{}
	srv := New(testConfig(maxClients), rec, metrics.New())
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv, rec
}

// pushFrame pushes an already-cropped buffer filled with seed and returns the
// expected stored bytes.
func pushFrame(srv *Server, seed byte) []byte {
	buf := make([]byte, srv.cfg.Format.BytesPerFrame())
	for i := range buf {
		buf[i] = seed
	}
	srv.Source().Push(buf)
	return buf
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// readPart consumes one multipart frame part and returns its payload.
func readPart(t *testing.T, br *bufio.Reader) []byte {
	t.Helper()
	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read boundary: %v", err)
	}
	if line != "--frame\r\n" {
		t.Fatalf("boundary = %q", line)
	}

	length := -1
	for {
		line, err = br.ReadString('\n')
		if err != nil {
			t.Fatalf("read header: %v", err)
		}
		if line == "\r\n" {
			break
		}
		if v, ok := strings.CutPrefix(line, "Content-Length: "); ok {
			length, err = strconv.Atoi(strings.TrimRight(v, "\r\n"))
			if err != nil {
				t.Fatalf("bad Content-Length %q: %v", v, err)
			}
		}
	}
	if length < 0 {
		t.Fatal("part missing Content-Length")
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(br, payload); err != nil {
		t.Fatalf("read payload: %v", err)
	}
	var crlf [2]byte
	if _, err := io.ReadFull(br, crlf[:]); err != nil || string(crlf[:]) != "\r\n" {
		t.Fatalf("part trailer = %q err=%v", crlf, err)
	}
	return payload
}

func TestMultipartStreamDeliversFrames(t *testing.T) {
	srv, _ := startServer(t, 5)
	want := pushFrame(srv, 0xAB)

	resp, err := http.Get("http://" + srv.Addr() + "/stream")
	if err != nil {
		t.Fatalf("GET /stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "multipart/x-mixed-replace; boundary=frame" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q", cc)
	}

	br := bufio.NewReader(resp.Body)
	got := readPart(t, br)
	if !bytes.Equal(got, want) {
		t.Errorf("part payload = %v, want %v", got, want)
	}

	// A newer frame supersedes the old one; the client must see it next.
	want2 := pushFrame(srv, 0xCD)
	got2 := readPart(t, br)
	if !bytes.Equal(got2, want2) {
		t.Errorf("second part = %v, want %v", got2, want2)
	}
}

func TestCapacityRejectedWithoutProtocolBytes(t *testing.T) {
	srv, _ := startServer(t, 1)

	resp, err := http.Get("http://" + srv.Addr() + "/stream")
	if err != nil {
		t.Fatalf("first client: %v", err)
	}
	defer resp.Body.Close()
	waitFor(t, "first client registered", func() bool { return srv.ClientCount() == 1 })

	// Second connection must be closed before any protocol bytes.
	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	fmt.Fprintf(conn, "GET /stream HTTP/1.1\r\nHost: test\r\n\r\n")
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if n != 0 {
		t.Fatalf("rejected connection received %d bytes: %q", n, buf[:n])
	}
	if err != io.EOF {
		t.Fatalf("read err = %v, want EOF", err)
	}

	// The admitted client keeps receiving frames.
	want := pushFrame(srv, 0x11)
	got := readPart(t, bufio.NewReader(resp.Body))
	if !bytes.Equal(got, want) {
		t.Errorf("admitted client part = %v, want %v", got, want)
	}
}

func dialSocket(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSONMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	msgType, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Fatalf("message type = %d, want text", msgType)
	}
	var payload map[string]any
	if err := json.Unmarshal(msg, &payload); err != nil {
		t.Fatalf("unmarshal %q: %v", msg, err)
	}
	return payload
}

func TestSocketWelcomeAndControl(t *testing.T) {
	srv, _ := startServer(t, 5)
	conn := dialSocket(t, srv)

	welcome := readJSONMessage(t, conn)
	if welcome["type"] != "welcome" {
		t.Fatalf("first message type = %v, want welcome", welcome["type"])
	}
	if welcome["width"].(float64) != 4 || welcome["height"].(float64) != 2 {
		t.Errorf("welcome geometry = %vx%v", welcome["width"], welcome["height"])
	}
	if welcome["bytesPerFrame"].(float64) != float64(srv.cfg.Format.BytesPerFrame()) {
		t.Errorf("welcome bytesPerFrame = %v", welcome["bytesPerFrame"])
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("send ping: %v", err)
	}
	if pong := readJSONMessage(t, conn); pong["type"] != "pong" {
		t.Errorf("ping reply type = %v, want pong", pong["type"])
	}

	// Unknown commands are ignored, not an error; the session stays usable.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("SELF_DESTRUCT")); err != nil {
		t.Fatalf("send unknown: %v", err)
	}

	conn2 := dialSocket(t, srv)
	if w := readJSONMessage(t, conn2); w["type"] != "welcome" {
		t.Fatalf("second client welcome = %v", w["type"])
	}
	waitFor(t, "two clients registered", func() bool { return srv.ClientCount() == 2 })

	if err := conn.WriteMessage(websocket.TextMessage, []byte("GET_INFO")); err != nil {
		t.Fatalf("send GET_INFO: %v", err)
	}
	info := readJSONMessage(t, conn)
	if info["type"] != "info" {
		t.Fatalf("info type = %v", info["type"])
	}
	if int(info["clients"].(float64)) != 2 {
		t.Errorf("info clients = %v, want 2", info["clients"])
	}
	if int(info["port"].(float64)) != srv.Port() {
		t.Errorf("info port = %v, want %d", info["port"], srv.Port())
	}
}

func TestSocketReceivesBinaryFrames(t *testing.T) {
	srv, _ := startServer(t, 5)
	conn := dialSocket(t, srv)
	if w := readJSONMessage(t, conn); w["type"] != "welcome" {
		t.Fatalf("welcome = %v", w["type"])
	}

	want := pushFrame(srv, 0x5A)
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	msgType, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Fatalf("message type = %d, want binary", msgType)
	}
	if !bytes.Equal(msg, want) {
		t.Errorf("frame = %v, want %v", msg, want)
	}
}

func TestDeadSessionDoesNotStallOthers(t *testing.T) {
	srv, _ := startServer(t, 5)

	victim := dialSocket(t, srv)
	if w := readJSONMessage(t, victim); w["type"] != "welcome" {
		t.Fatalf("welcome = %v", w["type"])
	}
	survivor := dialSocket(t, srv)
	if w := readJSONMessage(t, survivor); w["type"] != "welcome" {
		t.Fatalf("welcome = %v", w["type"])
	}
	waitFor(t, "two clients", func() bool { return srv.ClientCount() == 2 })

	// Kill one transport abruptly.
	_ = victim.UnderlyingConn().Close()

	// Delivery to the survivor continues.
	want := pushFrame(srv, 0x42)
	_ = survivor.SetReadDeadline(time.Now().Add(3 * time.Second))
	msgType, msg, err := survivor.ReadMessage()
	if err != nil {
		t.Fatalf("survivor read: %v", err)
	}
	if msgType != websocket.BinaryMessage || !bytes.Equal(msg, want) {
		t.Errorf("survivor frame = type %d %v, want binary %v", msgType, msg, want)
	}

	waitFor(t, "victim deregistered", func() bool { return srv.ClientCount() == 1 })
}

func TestShutdownBroadcastsNotice(t *testing.T) {
	srv, _ := startServer(t, 5)
	conn := dialSocket(t, srv)
	if w := readJSONMessage(t, conn); w["type"] != "welcome" {
		t.Fatalf("welcome = %v", w["type"])
	}
	waitFor(t, "client registered", func() bool { return srv.ClientCount() == 1 })

	srv.Shutdown()

	notice := readJSONMessage(t, conn)
	if notice["type"] != "shutdown" {
		t.Errorf("notice type = %v, want shutdown", notice["type"])
	}
	if srv.State() != StateStopped {
		t.Errorf("state = %v after Shutdown, want stopped", srv.State())
	}
	if srv.ClientCount() != 0 {
		t.Errorf("clients = %d after Shutdown, want 0", srv.ClientCount())
	}
}

func TestShutdownIdempotent(t *testing.T) {
	srv := New(testConfig(5), nil, metrics.New())

	// Shutdown before Start is a no-op.
	srv.Shutdown()
	if srv.State() != StateStopped {
		t.Fatalf("state = %v, want stopped", srv.State())
	}

	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if srv.State() != StateRunning {
		t.Fatalf("state = %v, want running", srv.State())
	}

	srv.Shutdown()
	srv.Shutdown()
	if srv.State() != StateStopped {
		t.Errorf("state = %v after double Shutdown, want stopped", srv.State())
	}

	// And the server can start again.
	if err := srv.Start(); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	srv.Close()
}

func TestStartWhileRunningIsNoop(t *testing.T) {
	srv, rec := startServer(t, 5)
	addr := srv.Addr()
	if err := srv.Start(); err != nil {
		t.Fatalf("second Start returned error: %v", err)
	}
	if srv.Addr() != addr {
		t.Errorf("second Start rebound the listener")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.startedURLs) != 1 {
		t.Errorf("OnServerStarted fired %d times, want 1", len(rec.startedURLs))
	}
}

func TestBindFailureReportsError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("occupy port: %v", err)
	}
	defer ln.Close()

	cfg := testConfig(5)
	cfg.Addr = ln.Addr().String()
	rec := &callbackRecorder{}
	srv := New(cfg, rec, metrics.New())

	if err := srv.Start(); err == nil {
		t.Fatal("Start succeeded on an occupied port")
	}
	if srv.State() != StateStopped {
		t.Errorf("state = %v after bind failure, want stopped", srv.State())
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.errors) != 1 {
		t.Errorf("OnServerError fired %d times, want 1", len(rec.errors))
	}
}

func TestCallbacksTrackRegistry(t *testing.T) {
	srv, rec := startServer(t, 5)

	resp, err := http.Get("http://" + srv.Addr() + "/stream")
	if err != nil {
		t.Fatalf("GET /stream: %v", err)
	}
	waitFor(t, "connect callback", func() bool {
		connected, _ := rec.counts()
		return len(connected) == 1 && connected[0] == 1
	})

	resp.Body.Close()
	// The handler notices the dead client on its next write.
	waitFor(t, "disconnect callback", func() bool {
		pushFrame(srv, 0x01)
		_, disconnected := rec.counts()
		return len(disconnected) == 1 && disconnected[0] == 0
	})
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := startServer(t, 5)
	pushFrame(srv, 0x01)

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != "ok" || payload["running"] != true {
		t.Errorf("health = %v", payload)
	}
	if payload["frames_received"].(float64) != 1 {
		t.Errorf("frames_received = %v, want 1", payload["frames_received"])
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	srv, _ := startServer(t, 5)

	resp, err := http.Get("http://" + srv.Addr() + "/snapshot")
	if err != nil {
		t.Fatalf("GET /snapshot: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status before first frame = %d, want 503", resp.StatusCode)
	}

	pushFrame(srv, 0x80)

	resp, err = http.Get("http://" + srv.Addr() + "/snapshot")
	if err != nil {
		t.Fatalf("GET /snapshot: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q", ct)
	}
	img, err := jpeg.Decode(resp.Body)
	if err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 4 || bounds.Dy() != 2 {
		t.Errorf("snapshot size = %dx%d, want 4x2", bounds.Dx(), bounds.Dy())
	}
}
