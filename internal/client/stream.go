package client

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/kapu/checkers-live/pkg/gamedto"
)

// FrameCallback receives every server frame in arrival order.
type FrameCallback func(*gamedto.ServerFrame)

// StateCallback observes connection-state transitions; the owner typically
// triggers Session.Reconnect when the stream returns to StateConnected.
type StateCallback func(ConnState)

// HeaderProvider injects handshake headers (auth token, guest session id).
type HeaderProvider func() map[string]string

// Stream is the live event feed from the game server. It delivers frames
// best-effort and reconnects with bounded exponential backoff; it never
// replays missed frames, so owners must re-sync through the Session after
// any reconnect.
type Stream struct {
	wsURL string

	conn   *websocket.Conn // guarded by stateM; reconnects swap it
	state  ConnState
	stateM sync.RWMutex

	frameCbs []FrameCallback
	stateCbs []StateCallback
	cbM      sync.RWMutex

	maxReconnectAttempts int
	pingInterval         time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc

	headerProvider HeaderProvider
}

func NewStream(wsURL string, maxReconnectAttempts int) *Stream {
	return &Stream{
		wsURL:                wsURL,
		state:                StateDisconnected,
		maxReconnectAttempts: maxReconnectAttempts,
		pingInterval:         30 * time.Second,
		stopCh:               make(chan struct{}),
	}
}

// SetHeaderProvider injects headers into the handshake.
func (st *Stream) SetHeaderProvider(h HeaderProvider) { st.headerProvider = h }

func (st *Stream) OnFrame(cb FrameCallback) {
	st.cbM.Lock()
	st.frameCbs = append(st.frameCbs, cb)
	st.cbM.Unlock()
}

func (st *Stream) OnStateChange(cb StateCallback) {
	st.cbM.Lock()
	st.stateCbs = append(st.stateCbs, cb)
	st.cbM.Unlock()
}

func (st *Stream) Connect(ctx context.Context) error {
	st.stateM.Lock()
	if st.state == StateConnected || st.state == StateConnecting {
		st.stateM.Unlock()
		return nil
	}
	st.stateM.Unlock()

	st.rootCtx, st.rootCancel = context.WithCancel(context.Background())
	st.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, st.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      st.buildHeaders(),
	})
	if err != nil {
		st.setState(StateDisconnected)
		st.scheduleReconnect()
		return err
	}

	st.setConn(conn)
	st.setState(StateConnected)

	st.wg.Add(2)
	go st.listen()
	go st.pingLoop()
	return nil
}

// Send writes one client frame.
func (st *Stream) Send(ctx context.Context, f *gamedto.ClientFrame) error {
	conn := st.getConn()
	if conn == nil {
		return context.Canceled
	}
	return wsjson.Write(ctx, conn, f)
}

func (st *Stream) listen() {
	defer st.wg.Done()
	for {
		select {
		case <-st.stopCh:
			return
		default:
		}
		conn := st.getConn()
		if conn == nil {
			return
		}
		var frame gamedto.ServerFrame
		if err := wsjson.Read(st.rootCtx, conn, &frame); err != nil {
			if st.isStopping() {
				return
			}
			st.setState(StateDisconnected)
			_ = st.closeConn(websocket.StatusGoingAway, "reconnect")
			st.scheduleReconnect()
			return
		}

		st.cbM.RLock()
		cbs := make([]FrameCallback, len(st.frameCbs))
		copy(cbs, st.frameCbs)
		st.cbM.RUnlock()
		for _, cb := range cbs {
			if cb != nil {
				cb(&frame)
			}
		}
	}
}

func (st *Stream) pingLoop() {
	defer st.wg.Done()
	t := time.NewTicker(st.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-st.stopCh:
			return
		case <-t.C:
			conn := st.getConn()
			if conn == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(st.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err != nil {
				failures++
				if failures >= 2 {
					if st.isStopping() {
						return
					}
					st.setState(StateDisconnected)
					_ = st.closeConn(websocket.StatusGoingAway, "ping failure")
					st.scheduleReconnect()
					failures = 0
				}
				continue
			}
			failures = 0
		}
	}
}

func (st *Stream) scheduleReconnect() {
	if st.maxReconnectAttempts <= 0 {
		return
	}
	st.setState(StateReconnecting)

	go func() {
		for attempt := 1; attempt <= st.maxReconnectAttempts; attempt++ {
			select {
			case <-st.stopCh:
				return
			case <-time.After(backoffDuration(attempt)):
			}

			dialCtx, cancel := context.WithTimeout(st.rootCtx, 10*time.Second)
			conn, _, err := websocket.Dial(dialCtx, st.wsURL, &websocket.DialOptions{
				CompressionMode: websocket.CompressionNoContextTakeover,
				HTTPHeader:      st.buildHeaders(),
			})
			cancel()
			if err != nil {
				continue
			}

			st.setConn(conn)
			st.setState(StateConnected)

			st.wg.Add(2)
			go st.listen()
			go st.pingLoop()
			return
		}
		st.setState(StateDisconnected)
	}()
}

func (st *Stream) setState(state ConnState) {
	st.stateM.Lock()
	st.state = state
	st.stateM.Unlock()

	st.cbM.RLock()
	cbs := make([]StateCallback, len(st.stateCbs))
	copy(cbs, st.stateCbs)
	st.cbM.RUnlock()
	for _, cb := range cbs {
		if cb != nil {
			cb(state)
		}
	}
}

// State reports the current stream state.
func (st *Stream) State() ConnState {
	st.stateM.RLock()
	defer st.stateM.RUnlock()
	return st.state
}

func (st *Stream) Close(ctx context.Context) error {
	st.stopOnce.Do(func() { close(st.stopCh) })
	_ = st.closeConn(websocket.StatusNormalClosure, "close")

	done := make(chan struct{})
	go func() {
		st.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		if st.rootCancel != nil {
			st.rootCancel()
		}
		return nil
	}
}

func (st *Stream) getConn() *websocket.Conn {
	st.stateM.RLock()
	defer st.stateM.RUnlock()
	return st.conn
}

func (st *Stream) setConn(c *websocket.Conn) {
	st.stateM.Lock()
	st.conn = c
	st.stateM.Unlock()
}

func (st *Stream) closeConn(code websocket.StatusCode, reason string) error {
	st.stateM.Lock()
	conn := st.conn
	st.conn = nil
	st.stateM.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(code, reason)
}

func (st *Stream) isStopping() bool {
	select {
	case <-st.stopCh:
		return true
	default:
		return false
	}
}

func (st *Stream) buildHeaders() http.Header {
	hdr := http.Header{}
	if st.headerProvider == nil {
		return hdr
	}
	for k, v := range st.headerProvider() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 250 * time.Millisecond
}
