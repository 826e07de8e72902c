package websocket

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

type socketClient struct {
	id        uuid.UUID
	socket    *websocket.Conn
	writeLock sync.Mutex
	closeOnce sync.Once
}

func newSocketClient(id uuid.UUID, socket *websocket.Conn) *socketClient {
	return &socketClient{id: id, socket: socket}
}

func (client *socketClient) SendMessage(message *SocketMessage) error {
	client.writeLock.Lock()
	defer client.writeLock.Unlock()

	_ = client.socket.SetWriteDeadline(time.Now().Add(writeTimeout))
	return client.socket.WriteJSON(message)
}

// Read starts a read-loop on the clients websocket connection, emitting
// all received messages on the channel provided. If the connection
// experiences an error, or the JSON unmarshalling fails, this error will be returned
// and consequently the read loop will close. It is the responsibility of the caller
// to de-register the client once the connection closes.
func (client *socketClient) Read(receiveCh chan *SocketMessage, done <-chan struct{}) error {
	for {
		var recv SocketMessage
		if err := client.socket.ReadJSON(&recv); err != nil {
			return err
		}

		origin := client.id
		recv.Origin = &origin
		select {
		case receiveCh <- &recv:
		case <-done:
			return nil
		}
	}
}

// Close will close this clients socket
func (client *socketClient) Close() {
	client.closeOnce.Do(func() { _ = client.socket.Close() })
}
