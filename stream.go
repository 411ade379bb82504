package main

import (
	"net/http"
	"time"

	"github.com/CodedInternet/iotcar/comms"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 2 * time.Second
	maxEchoMessage = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EchoHandler lets the control page measure its link to the car. Frames larger than
// maxEchoMessage close the socket.
func EchoHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Print("upgrade:", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxEchoMessage)

	for {
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Printf("echo %s: %v", r.RemoteAddr, err)
			}
			return
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err = conn.WriteMessage(kind, frame); err != nil {
			logger.Printf("echo %s: %v", r.RemoteAddr, err)
			return
		}
	}
}

// stateStream pushes every state change of the car as JSON until either side goes away.
func (a *adminAPI) stateStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Print("upgrade:", err)
		return
	}
	defer conn.Close()

	id, states := a.device.Subscribe()
	defer a.device.Unsubscribe(id)

	// reads only serve to notice the client closing
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case state, ok := <-states:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "car closed"),
					time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(comms.NewStatePayload(state, nil)); err != nil {
				logger.Println("write:", err)
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
