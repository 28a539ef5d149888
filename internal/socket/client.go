package socket

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client maintains the websocket connection to the backend and feeds
// received events into a dispatcher.
type Client struct {
	conn *websocket.Conn
	disp *Dispatcher
	lg   *zap.Logger
	done chan struct{}
}

// Dial connects to the backend's socket endpoint and starts the read and
// ping loops. The token, when set, is sent as a bearer header during the
// handshake.
func Dial(ctx context.Context, socketURL, token string, disp *Dispatcher, lg *zap.Logger) (*Client, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, socketURL, header)
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn: conn,
		disp: disp,
		lg:   lg,
		done: make(chan struct{}),
	}
	go c.readPump()
	go c.pingLoop()
	return c, nil
}

func (c *Client) readPump() {
	defer close(c.done)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var ev Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.lg.Warn("socket read failed", zap.Error(err))
			}
			return
		}
		if ev.Type == "" {
			continue
		}
		c.disp.Dispatch(ev)
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Done closes when the connection is gone, letting the caller decide
// whether to redial.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close shuts the connection down, stopping both pumps.
func (c *Client) Close() error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
