package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/runview/internal/hub"
)

// apiClient calls the dashboard's v1 API.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(addr string) *apiClient {
	return &apiClient{
		baseURL:    strings.TrimSuffix(addr, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// call sends a request and returns the raw JSON response.
func (c *apiClient) call(method, path string, body interface{}) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// watchClient is a websocket client bound to one session's updates.
type watchClient struct {
	conn *websocket.Conn
}

func dialWatch(addr, sessionID string) (*watchClient, error) {
	u, err := url.Parse(strings.TrimSuffix(addr, "/") + "/ws")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	c := &watchClient{conn: conn}
	if err := c.hello(sessionID); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *watchClient) Close() error {
	return c.conn.Close()
}

// hello binds the connection and waits for hello_ack.
func (c *watchClient) hello(sessionID string) error {
	msg := hub.HelloMessage{BaseMessage: hub.BaseMessage{
		Type:      hub.TypeHello,
		Ts:        time.Now().UnixMilli(),
		SessionID: sessionID,
	}}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write hello: %w", err)
	}

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read hello_ack: %w", err)
	}
	var base hub.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return fmt.Errorf("unmarshal hello_ack: %w", err)
	}
	if base.Type == hub.TypeError {
		var errMsg hub.ErrorMessage
		_ = json.Unmarshal(data, &errMsg)
		return fmt.Errorf("hello failed: %s - %s", errMsg.Code, errMsg.Message)
	}
	if base.Type != hub.TypeHelloAck {
		return fmt.Errorf("expected hello_ack, got: %s", base.Type)
	}

	var ack hub.HelloAckMessage
	if err := json.Unmarshal(data, &ack); err == nil {
		printView(ack.View.SessionID, ack.View.RunID, ack.View.StepsMap)
	}
	return nil
}

// read prints pushed messages until the connection closes.
func (c *watchClient) read() error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}

		var base hub.BaseMessage
		if err := json.Unmarshal(data, &base); err != nil {
			continue
		}
		switch base.Type {
		case hub.TypeView:
			var msg hub.ViewMessage
			if err := json.Unmarshal(data, &msg); err == nil {
				printView(msg.View.SessionID, msg.View.RunID, msg.View.StepsMap)
			}
		case hub.TypeRunOutcome:
			var msg hub.RunOutcomeMessage
			if err := json.Unmarshal(data, &msg); err == nil {
				fmt.Printf("[run %s] %s (applied=%t)\n", msg.Outcome.RunID, msg.Outcome.Outcome, msg.Outcome.Applied)
			}
		default:
			printJSON(data)
		}
	}
}
