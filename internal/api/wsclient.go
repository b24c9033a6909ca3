package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/gorilla/websocket"
	"github.com/lagrangedao/go-c2d-flow/internal/models"
)

const (
	pingPeriod = 10 * time.Second
	writeWait  = 5 * time.Second
)

var upgrade = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WsClient struct {
	client    *websocket.Conn
	message   chan wsMessage
	stopCh    chan struct{}
	closeOnce sync.Once
}

type wsMessage struct {
	data    []byte
	msgType int
}

func NewWsClient(client *websocket.Conn) *WsClient {
	wsClient := &WsClient{
		client:  client,
		message: make(chan wsMessage, 5),
		stopCh:  make(chan struct{}),
	}

	client.SetCloseHandler(func(code int, text string) error {
		logs.GetLogger().Infof("event stream closed by client, code: %d", code)
		wsClient.Close()
		return nil
	})

	return wsClient
}

func (ws *WsClient) Close() {
	ws.closeOnce.Do(func() {
		close(ws.stopCh)
		ws.client.Close()
	})
}

// HandleFlowEvents writes every event as json and sends a normal close frame once the
// channel is closed. It returns when the connection is gone.
func (ws *WsClient) HandleFlowEvents(events <-chan models.FlowEvent) {
	ws.readMessage()
	ws.writeMessage()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ws.send(wsMessage{msgType: websocket.PingMessage})
			case <-ws.stopCh:
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				ws.send(wsMessage{
					data:    websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
					msgType: websocket.CloseMessage,
				})
				<-ws.stopCh
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				logs.GetLogger().Errorf("failed marshal flow event, error: %+v", err)
				continue
			}
			ws.send(wsMessage{data: data, msgType: websocket.TextMessage})
		case <-ws.stopCh:
			return
		}
	}
}

func (ws *WsClient) send(msg wsMessage) {
	select {
	case ws.message <- msg:
	case <-ws.stopCh:
	}
}

func (ws *WsClient) writeMessage() {
	go func() {
		for {
			select {
			case msg := <-ws.message:
				ws.client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := ws.client.WriteMessage(msg.msgType, msg.data); err != nil {
					logs.GetLogger().Warnf("failed write event stream, error: %+v", err)
					ws.Close()
					return
				}
				if msg.msgType == websocket.CloseMessage {
					ws.Close()
					return
				}
			case <-ws.stopCh:
				return
			}
		}
	}()
}

// readMessage drains client frames so control frames are processed.
func (ws *WsClient) readMessage() {
	go func() {
		for {
			if _, _, err := ws.client.ReadMessage(); err != nil {
				ws.Close()
				return
			}
		}
	}()
}
