package ca

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pvimport/internal/logs"
)

// Client is a Channel Access client bound to a fixed address list. It
// searches names over UDP and keeps one TCP virtual circuit per
// answering server. The engine only ever reads and monitors; it never
// writes to the bus.
type Client struct {
	addrs   []string
	timeout time.Duration

	mu       sync.Mutex
	circuits map[string]*circuit
	closed   bool

	nextID atomic.Uint32
}

// NewClient parses the space-separated address list (host or host:port,
// default port 5064). timeout bounds searches, connects and request
// round-trips.
func NewClient(addressList string, timeout time.Duration) *Client {
	var addrs []string
	for _, a := range strings.Fields(addressList) {
		if !strings.Contains(a, ":") {
			a = fmt.Sprintf("%s:%d", a, serverPort)
		}
		addrs = append(addrs, a)
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		addrs:    addrs,
		timeout:  timeout,
		circuits: map[string]*circuit{},
	}
}

func (c *Client) id() uint32 { return c.nextID.Add(1) }

// Search resolves a channel name to the answering server's TCP address.
func (c *Client) Search(name string) (string, error) {
	return c.search(name, c.timeout)
}

func (c *Client) search(name string, timeout time.Duration) (string, error) {
	pc, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return "", err
	}
	defer pc.Close()

	cid := c.id()
	var datagram []byte
	datagram = append(datagram, frame{cmd: cmdVersion, dataType: 1, count: uint32(protocolVersion)}.encode()...)
	datagram = append(datagram, frame{
		cmd:      cmdSearch,
		dataType: dontReply,
		count:    uint32(protocolVersion),
		p1:       cid,
		p2:       cid,
		payload:  namePayload(name),
	}.encode()...)

	for _, a := range c.addrs {
		ua, err := net.ResolveUDPAddr("udp", a)
		if err != nil {
			logs.Logger.Warnf("bad channel access address %q: %v", a, err)
			continue
		}
		if _, err := pc.WriteTo(datagram, ua); err != nil {
			logs.Logger.Debugf("search send to %s: %v", a, err)
		}
	}

	deadline := time.Now().Add(timeout)
	buf := make([]byte, 4096)
	for {
		if err := pc.SetReadDeadline(deadline); err != nil {
			return "", err
		}
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			return "", fmt.Errorf("channel %s not found within %s", name, timeout)
		}
		for _, f := range parseFrames(buf[:n]) {
			if f.cmd != cmdSearch || f.p2 != cid {
				continue
			}
			host := hostFromParam(f.p1, from)
			return net.JoinHostPort(host, fmt.Sprintf("%d", f.dataType)), nil
		}
	}
}

// hostFromParam decodes the server address of a search reply; the
// all-ones sentinel means "use the datagram sender".
func hostFromParam(p1 uint32, from net.Addr) string {
	if p1 != 0xFFFFFFFF && p1 != 0 {
		ip := make(net.IP, 4)
		binary.BigEndian.PutUint32(ip, p1)
		return ip.String()
	}
	if ua, ok := from.(*net.UDPAddr); ok {
		return ua.IP.String()
	}
	host, _, _ := net.SplitHostPort(from.String())
	return host
}

// Probe reports whether a channel answers a search within the timeout.
func (c *Client) Probe(name string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = c.timeout
	}
	_, err := c.search(name, timeout)
	return err == nil
}

// Subscribe opens a monitor on the channel; onUpdate receives every
// value event with the decoded first scalar.
func (c *Client) Subscribe(name string, onUpdate func(name string, value any)) error {
	addr, err := c.Search(name)
	if err != nil {
		return err
	}
	circ, err := c.circuit(addr)
	if err != nil {
		return err
	}
	ch, err := circ.createChannel(name)
	if err != nil {
		return err
	}
	return circ.subscribe(ch, onUpdate)
}

// Get performs a one-shot read of the channel's current value.
func (c *Client) Get(name string) (any, error) {
	addr, err := c.Search(name)
	if err != nil {
		return nil, err
	}
	circ, err := c.circuit(addr)
	if err != nil {
		return nil, err
	}
	ch, err := circ.createChannel(name)
	if err != nil {
		return nil, err
	}
	return circ.read(ch)
}

// Close tears down every circuit. Subscriptions end with the process.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, circ := range c.circuits {
		circ.conn.Close()
	}
	c.circuits = map[string]*circuit{}
}

func (c *Client) circuit(addr string) (*circuit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("client closed")
	}
	if circ, ok := c.circuits[addr]; ok {
		return circ, nil
	}

	conn, err := net.DialTimeout("tcp", addr, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	circ := &circuit{
		client:  c,
		addr:    addr,
		conn:    conn,
		pending: map[uint32]chan frame{},
		subs:    map[uint32]*subscription{},
	}
	if err := circ.handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	c.circuits[addr] = circ
	go circ.readLoop()
	return circ, nil
}

func (c *Client) dropCircuit(circ *circuit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.circuits[circ.addr] == circ {
		delete(c.circuits, circ.addr)
	}
}

type channel struct {
	name     string
	sid      uint32
	dataType uint16
	count    uint32
}

type subscription struct {
	name     string
	onUpdate func(name string, value any)
}

// circuit is one TCP connection to a CA server. Writes are serialised;
// a single reader goroutine dispatches responses and monitor events.
type circuit struct {
	client *Client
	addr   string
	conn   net.Conn

	wmu sync.Mutex // serialises frame writes

	mu      sync.Mutex
	pending map[uint32]chan frame // keyed by cid (create) or ioid (read)
	subs    map[uint32]*subscription
}

func (t *circuit) handshake() error {
	user := os.Getenv("USER")
	if user == "" {
		user = "pvimport"
	}
	host, _ := os.Hostname()

	var b []byte
	b = append(b, frame{cmd: cmdVersion, dataType: 1, count: uint32(protocolVersion)}.encode()...)
	b = append(b, frame{cmd: cmdClientName, payload: namePayload(user)}.encode()...)
	b = append(b, frame{cmd: cmdHostName, payload: namePayload(host)}.encode()...)
	return t.write(b)
}

func (t *circuit) write(b []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.client.timeout)); err != nil {
		return err
	}
	_, err := t.conn.Write(b)
	return err
}

func (t *circuit) expect(key uint32) chan frame {
	ch := make(chan frame, 1)
	t.mu.Lock()
	t.pending[key] = ch
	t.mu.Unlock()
	return ch
}

func (t *circuit) await(key uint32, ch chan frame) (frame, error) {
	defer func() {
		t.mu.Lock()
		delete(t.pending, key)
		t.mu.Unlock()
	}()
	select {
	case f := <-ch:
		return f, nil
	case <-time.After(t.client.timeout):
		return frame{}, fmt.Errorf("timed out waiting for server %s", t.addr)
	}
}

func (t *circuit) createChannel(name string) (*channel, error) {
	cid := t.client.id()
	ch := t.expect(cid)
	err := t.write(frame{
		cmd:     cmdCreateChan,
		p1:      cid,
		p2:      uint32(protocolVersion),
		payload: namePayload(name),
	}.encode())
	if err != nil {
		return nil, err
	}
	f, err := t.await(cid, ch)
	if err != nil {
		return nil, fmt.Errorf("create channel %s: %w", name, err)
	}
	if f.cmd == cmdCreateChanFail {
		return nil, fmt.Errorf("server refused channel %s", name)
	}
	return &channel{name: name, sid: f.p2, dataType: f.dataType, count: f.count}, nil
}

func (t *circuit) subscribe(ch *channel, onUpdate func(string, any)) error {
	subID := t.client.id()
	t.mu.Lock()
	t.subs[subID] = &subscription{name: ch.name, onUpdate: onUpdate}
	t.mu.Unlock()

	// Payload: low/high/to thresholds (unused, zero) + event mask.
	payload := make([]byte, 16)
	binary.BigEndian.PutUint16(payload[12:14], eventMask)
	return t.write(frame{
		cmd:      cmdEventAdd,
		dataType: ch.dataType,
		count:    ch.count,
		p1:       ch.sid,
		p2:       subID,
		payload:  payload,
	}.encode())
}

func (t *circuit) read(ch *channel) (any, error) {
	ioid := t.client.id()
	waiter := t.expect(ioid)
	err := t.write(frame{
		cmd:      cmdReadNotify,
		dataType: ch.dataType,
		count:    ch.count,
		p1:       ch.sid,
		p2:       ioid,
	}.encode())
	if err != nil {
		return nil, err
	}
	f, err := t.await(ioid, waiter)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ch.name, err)
	}
	return decodeScalar(f.dataType, f.count, f.payload)
}

func (t *circuit) readLoop() {
	for {
		f, err := readFrame(t.conn)
		if err != nil {
			logs.Logger.Warnf("channel access circuit %s lost: %v", t.addr, err)
			t.conn.Close()
			t.client.dropCircuit(t)
			return
		}
		switch f.cmd {
		case cmdEventAdd:
			t.mu.Lock()
			sub := t.subs[f.p2]
			t.mu.Unlock()
			if sub == nil {
				continue
			}
			v, err := decodeScalar(f.dataType, f.count, f.payload)
			if err != nil {
				logs.Logger.Debugf("undecodable event for %s: %v", sub.name, err)
				continue
			}
			sub.onUpdate(sub.name, v)
		case cmdCreateChan, cmdCreateChanFail:
			t.deliver(f.p1, f)
		case cmdReadNotify:
			t.deliver(f.p2, f)
		case cmdVersion, cmdAccessRights, cmdNotFound:
			// informational
		default:
			logs.Logger.Debugf("ignoring CA command %d from %s", f.cmd, t.addr)
		}
	}
}

func (t *circuit) deliver(key uint32, f frame) {
	t.mu.Lock()
	ch := t.pending[key]
	t.mu.Unlock()
	if ch != nil {
		select {
		case ch <- f:
		default:
		}
	}
}
