package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"medianalyst/internal/pipeline"
	"medianalyst/internal/types"
)

const (
	chatWSWriteWait = 10 * time.Second
	chatWSPongWait  = 60 * time.Second
	chatWSPingEvery = (chatWSPongWait * 9) / 10
)

var chatWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type chatWSInbound struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

type chatWSOutbound struct {
	Type     string              `json:"type"`
	RunID    string              `json:"runId,omitempty"`
	Message  *types.ChatMessage  `json:"message,omitempty"`
	Messages []types.ChatMessage `json:"messages,omitempty"`
	Code     string              `json:"code,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// ChatWS serves the chat of one run over a WebSocket. Inbound frames are "send" and
// "ping"; outbound frames are "history", "message", "error" and "pong".
func (h *Handler) ChatWS(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	runID := run.ID()

	conn, err := chatWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(chatWSPongWait)); err != nil {
		h.log.Warn("chat ws set read deadline failed", "run_id", runID, "error", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(chatWSPongWait))
	})

	writeCh := make(chan chatWSOutbound, 32)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(chatWSPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(chatWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(chatWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	pushChatWS(writeCh, chatWSOutbound{Type: "history", RunID: runID, Messages: run.Snapshot().ChatHistory})

	// Sends run beside the reader so pongs keep extending the read deadline while a
	// reply is pending. At most one send is in flight per connection.
	var sends sync.WaitGroup
	inflight := make(chan struct{}, 1)
	send := func(text string) {
		defer sends.Done()
		reply, err := h.engine.SendChat(ctx, run, text)
		<-inflight
		switch {
		case err == nil:
			pushChatWS(writeCh, chatWSOutbound{Type: "message", RunID: runID, Message: &reply})
		case errors.Is(err, pipeline.ErrChatSend):
			pushChatWS(writeCh, chatWSOutbound{Type: "message", RunID: runID, Message: &reply, Code: "upstream", Error: err.Error()})
		default:
			pushChatWS(writeCh, chatWSOutbound{Type: "error", RunID: runID, Code: wsCode(err), Error: err.Error()})
		}
	}

	for {
		var in chatWSInbound
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			sends.Wait()
			<-writerDone
			return
		}
		switch strings.ToLower(strings.TrimSpace(in.Type)) {
		case "ping":
			pushChatWS(writeCh, chatWSOutbound{Type: "pong"})
		case "send":
			select {
			case inflight <- struct{}{}:
				sends.Add(1)
				go send(in.Message)
			default:
				pushChatWS(writeCh, chatWSOutbound{Type: "error", RunID: runID, Code: "busy", Error: "a reply is still pending"})
			}
		case "":
			pushChatWS(writeCh, chatWSOutbound{Type: "error", Code: "invalid_argument", Error: "type is required"})
		default:
			pushChatWS(writeCh, chatWSOutbound{Type: "error", Code: "invalid_argument", Error: "unsupported type: " + in.Type})
		}
	}
}

func wsCode(err error) string {
	switch StatusFor(err) {
	case http.StatusBadRequest:
		return "invalid_argument"
	case http.StatusConflict:
		return "failed_precondition"
	case http.StatusTooManyRequests:
		return "busy"
	default:
		return "internal"
	}
}

// pushChatWS never blocks the reader: when the buffer is full the oldest frame is dropped.
func pushChatWS(writeCh chan chatWSOutbound, out chatWSOutbound) {
	select {
	case writeCh <- out:
		return
	default:
	}
	select {
	case <-writeCh:
	default:
	}
	select {
	case writeCh <- out:
	default:
	}
}
