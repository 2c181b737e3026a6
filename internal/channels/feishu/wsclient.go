package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	wsEndpointPath      = "/callback/ws/endpoint"
	defaultPingInterval = 120 * time.Second
	fragmentTTL         = 10 * time.Second
	wsReadLimit         = 4 << 20
)

// ClientConfig is the connection tuning the server hands out with the
// endpoint and in pong payloads. Intervals are in seconds.
type ClientConfig struct {
	ReconnectCount    int `json:"ReconnectCount"`
	ReconnectInterval int `json:"ReconnectInterval"`
	ReconnectNonce    int `json:"ReconnectNonce"`
	PingInterval      int `json:"PingInterval"`
}

// WSDialer opens long-connection sessions for one app.
type WSDialer struct {
	appID      string
	appSecret  string
	baseURL    string
	handler    EventHandler
	httpClient *http.Client
}

// NewWSDialer creates a dialer. Events received on its sessions go to handler.
func NewWSDialer(appID, appSecret, baseURL string, handler EventHandler) *WSDialer {
	return &WSDialer{
		appID:      appID,
		appSecret:  appSecret,
		baseURL:    baseURL,
		handler:    handler,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Dial fetches a connection endpoint and opens the websocket.
func (d *WSDialer) Dial(ctx context.Context) (*Session, error) {
	wsURL, cfg, err := d.fetchEndpoint(ctx)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("feishu ws: parse endpoint url: %w", err)
	}
	serviceID, _ := strconv.ParseInt(u.Query().Get("service_id"), 10, 32)

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("feishu ws: dial: %w", err)
	}
	conn.SetReadLimit(wsReadLimit)

	s := &Session{
		id:        uuid.NewString(),
		conn:      conn,
		serviceID: int32(serviceID),
		handler:   d.handler,
		fragments: make(map[string]*fragment),
	}
	s.setPingInterval(cfg.PingInterval)
	slog.Debug("feishu ws connected", "session", s.id, "service_id", serviceID)
	return s, nil
}

func (d *WSDialer) fetchEndpoint(ctx context.Context) (string, ClientConfig, error) {
	body, _ := json.Marshal(map[string]string{
		"AppID":     d.appID,
		"AppSecret": d.appSecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+wsEndpointPath, bytes.NewReader(body))
	if err != nil {
		return "", ClientConfig{}, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("locale", "zh")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", ClientConfig{}, fmt.Errorf("feishu ws: endpoint request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			URL          string       `json:"URL"`
			ClientConfig ClientConfig `json:"ClientConfig"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", ClientConfig{}, fmt.Errorf("feishu ws: endpoint decode (http %d): %w", resp.StatusCode, err)
	}
	if result.Code != 0 {
		return "", ClientConfig{}, &APIError{Op: "ws endpoint", Code: result.Code, Msg: result.Msg}
	}
	if result.Data.URL == "" {
		return "", ClientConfig{}, fmt.Errorf("feishu ws: endpoint returned no url")
	}
	return result.Data.URL, result.Data.ClientConfig, nil
}

// Session is one live long connection.
type Session struct {
	id        string
	conn      *websocket.Conn
	writeMu   sync.Mutex
	serviceID int32
	handler   EventHandler
	pingNanos atomic.Int64

	fragMu    sync.Mutex
	fragments map[string]*fragment

	wg sync.WaitGroup
}

type fragment struct {
	parts   [][]byte
	created time.Time
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Run reads frames until the connection fails or ctx is done. It always
// returns a non-nil error; ctx.Err() on cancellation. Event handlers already
// running are allowed to finish before Run returns.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.wg.Wait()
	}()

	go s.pingLoop(ctx)

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.conn.Close(websocket.StatusNormalClosure, "")
				return ctx.Err()
			}
			s.conn.CloseNow()
			return fmt.Errorf("feishu ws: read: %w", err)
		}

		frame, err := UnmarshalFrame(data)
		if err != nil {
			slog.Warn("feishu ws: bad frame", "session", s.id, "error", err)
			continue
		}
		switch frame.Method {
		case frameMethodControl:
			s.handleControl(frame)
		case frameMethodData:
			s.handleData(ctx, frame)
		}
	}
}

func (s *Session) handleControl(frame *Frame) {
	if frame.Header(headerType) != frameTypePong || len(frame.Payload) == 0 {
		return
	}
	var cfg ClientConfig
	if err := json.Unmarshal(frame.Payload, &cfg); err != nil {
		slog.Debug("feishu ws: pong config decode failed", "error", err)
		return
	}
	s.setPingInterval(cfg.PingInterval)
}

func (s *Session) handleData(ctx context.Context, frame *Frame) {
	payload := frame.Payload
	if sum, _ := strconv.Atoi(frame.Header(headerSum)); sum > 1 {
		seq, _ := strconv.Atoi(frame.Header(headerSeq))
		payload = s.combine(frame.Header(headerMessageID), sum, seq, payload)
		if payload == nil {
			return
		}
	}

	// Handlers outlive a dropped connection: appends and sends finish naturally.
	hctx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		start := time.Now()
		code := http.StatusOK

		if frame.Header(headerType) == frameTypeEvent {
			if err := s.handler.HandleEvent(hctx, payload); err != nil {
				code = http.StatusInternalServerError
				if !errors.Is(err, ErrUnhandledEvent) {
					slog.Warn("feishu ws: event handler failed",
						"message_id", frame.Header(headerMessageID),
						"trace_id", frame.Header(headerTraceID),
						"error", err,
					)
				}
			}
		}

		resp := *frame
		resp.Headers = append([]FrameHeader(nil), frame.Headers...)
		resp.SetHeader(headerBizRT, strconv.FormatInt(time.Since(start).Milliseconds(), 10))
		resp.Payload, _ = json.Marshal(map[string]int{"code": code})
		if err := s.write(ctx, &resp); err != nil {
			slog.Debug("feishu ws: ack failed", "session", s.id, "error", err)
		}
	}()
}

// combine buffers one part of a multi-part payload and returns the whole
// payload once every part has arrived.
func (s *Session) combine(messageID string, sum, seq int, part []byte) []byte {
	if seq < 0 || seq >= sum {
		return nil
	}
	s.fragMu.Lock()
	defer s.fragMu.Unlock()

	now := time.Now()
	for id, f := range s.fragments {
		if now.Sub(f.created) > fragmentTTL {
			delete(s.fragments, id)
		}
	}

	f, ok := s.fragments[messageID]
	if !ok || len(f.parts) != sum {
		f = &fragment{parts: make([][]byte, sum), created: now}
		s.fragments[messageID] = f
	}
	f.parts[seq] = part
	for _, p := range f.parts {
		if p == nil {
			return nil
		}
	}
	delete(s.fragments, messageID)
	return bytes.Join(f.parts, nil)
}

func (s *Session) pingLoop(ctx context.Context) {
	for {
		timer := time.NewTimer(time.Duration(s.pingNanos.Load()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		ping := &Frame{
			Service: s.serviceID,
			Method:  frameMethodControl,
			Headers: []FrameHeader{{Key: headerType, Value: frameTypePing}},
		}
		if err := s.write(ctx, ping); err != nil {
			slog.Debug("feishu ws: ping failed", "session", s.id, "error", err)
		}
	}
}

func (s *Session) setPingInterval(seconds int) {
	d := defaultPingInterval
	if seconds > 0 {
		d = time.Duration(seconds) * time.Second
	}
	s.pingNanos.Store(int64(d))
}

func (s *Session) write(ctx context.Context, f *Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(ctx, websocket.MessageBinary, f.Marshal())
}
