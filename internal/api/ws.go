package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/aezell/perfrev/internal/agent"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024 * 64,
	WriteBufferSize: 1024 * 64,
	CheckOrigin:     checkOrigin,
}

// checkOrigin accepts browser pages served from the same host or from a
// loopback address. Clients that send no Origin header are not browsers
// and are let through.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	switch strings.ToLower(u.Hostname()) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// WebSocket message types from client.
const (
	wsMsgReview = "review"
	wsMsgCancel = "cancel"
)

// WebSocket message types to client.
const (
	wsMsgText       = "text"
	wsMsgToolCall   = "tool_call"
	wsMsgToolResult = "tool_result"
	wsMsgDone       = "done"
	wsMsgError      = "error"
)

// wsMessage is the envelope for WebSocket messages in both directions.
type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// wsReview is the payload for "review" messages.
type wsReview struct {
	Request string `json:"request"`
}

type wsText struct {
	Step int    `json:"step"`
	Text string `json:"text"`
}

type wsToolCall struct {
	Step int             `json:"step"`
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type wsToolResult struct {
	Step   int             `json:"step"`
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Output json.RawMessage `json:"output"`
	Failed bool            `json:"failed,omitempty"`
}

// wsDone is sent when a review run ends.
type wsDone struct {
	Stop       agent.StopReason `json:"stop"`
	Steps      int              `json:"steps"`
	ReportPath string           `json:"report_path,omitempty"`
	Text       string           `json:"text"`
}

// reviewSession holds the state for one WebSocket connection. At most one
// review runs at a time.
type reviewSession struct {
	srv  *Server
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := &reviewSession{srv: s, conn: conn}
	defer session.wg.Wait()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("websocket read", "err", err)
			}
			cancel()
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			session.sendError("invalid message format")
			continue
		}

		switch msg.Type {
		case wsMsgReview:
			session.start(ctx, msg.Data)
		case wsMsgCancel:
			session.stop()
		default:
			session.sendError("unknown message type: " + msg.Type)
		}
	}
}

func (rs *reviewSession) start(parent context.Context, data json.RawMessage) {
	var req wsReview
	if err := json.Unmarshal(data, &req); err != nil || req.Request == "" {
		rs.sendError("invalid review data: request is required")
		return
	}
	if rs.srv.opts.Model == nil {
		rs.sendError("reviews are not available: no model configured")
		return
	}

	rs.mu.Lock()
	if rs.running {
		rs.mu.Unlock()
		rs.sendError("a review is already running")
		return
	}
	ctx, cancel := context.WithCancel(parent)
	rs.running, rs.cancel = true, cancel
	rs.wg.Add(1)
	rs.mu.Unlock()

	go func() {
		defer rs.wg.Done()
		defer func() {
			rs.mu.Lock()
			rs.running, rs.cancel = false, nil
			rs.mu.Unlock()
			cancel()
		}()
		rs.run(ctx, req.Request)
	}()
}

func (rs *reviewSession) stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.cancel != nil {
		rs.cancel()
	}
}

func (rs *reviewSession) run(ctx context.Context, request string) {
	m, err := rs.srv.opts.Model(ctx)
	if err != nil {
		rs.sendError(err.Error())
		return
	}

	opts := rs.srv.opts.Agent
	opts.Logger = rs.srv.log
	opts.Hooks = agent.Hooks{
		OnText: func(step int, text string) {
			rs.send(wsMsgText, wsText{Step: step, Text: text})
		},
		OnToolCall: func(step int, c agent.ToolCall) {
			rs.send(wsMsgToolCall, wsToolCall{Step: step, ID: c.ID, Name: c.Name, Args: c.Args})
		},
		OnToolResult: func(step int, r agent.ToolResult) {
			rs.send(wsMsgToolResult, wsToolResult{Step: step, ID: r.CallID, Name: r.Name, Output: r.Content(), Failed: r.Err != nil})
		},
	}

	art, err := agent.New(m, rs.srv.opts.Tools, rs.srv.opts.System, opts).Run(ctx, request)
	if err != nil {
		rs.sendError(err.Error())
		return
	}
	rs.send(wsMsgDone, wsDone{Stop: art.Stop, Steps: art.Steps, ReportPath: art.ReportPath, Text: art.Text})
}

func (rs *reviewSession) send(msgType string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		rs.srv.log.Error("ws marshal", "err", err)
		return
	}
	rs.writeMu.Lock()
	defer rs.writeMu.Unlock()
	if err := rs.conn.WriteJSON(wsMessage{Type: msgType, Data: raw}); err != nil {
		rs.srv.log.Warn("ws write", "err", err)
	}
}

func (rs *reviewSession) sendError(errMsg string) {
	rs.send(wsMsgError, map[string]string{"message": errMsg})
}
