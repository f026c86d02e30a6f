package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"duochat/internal/model"
)

var (
	// ErrAlreadyConnected is returned by Connect while a connection is open or being opened.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrNoConversation is returned by the send methods before SelectPeer.
	ErrNoConversation = errors.New("no conversation selected")
)

// State of the live connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// SeenState separates an optimistic local flip from a server confirmation.
type SeenState int

const (
	SeenNone SeenState = iota
	SeenPending
	SeenConfirmed
)

// LocalMessage is a message in the open conversation view.
type LocalMessage struct {
	Message   model.Message
	SeenState SeenState
}

// Seen reports what a UI should render as the tick mark.
func (m LocalMessage) Seen() bool { return m.SeenState != SeenNone }

// Service is the REST surface the controller drives.
type Service interface {
	Conversation(ctx context.Context, peerID string) ([]model.Message, error)
	SendText(ctx context.Context, peerID, text string) (model.Message, error)
	SendImage(ctx context.Context, peerID, filename string, r io.Reader) (model.Message, error)
	SendPDF(ctx context.Context, peerID, filename string, r io.Reader) (model.Message, error)
	MarkSeen(ctx context.Context, ids []string) (int64, error)
}

// subscription is the active newMessage/messageSeen handler pair. While
// loading, pushes are queued and replayed once the history is in place.
type subscription struct {
	peerID        string
	onNewMessage  func(model.Message)
	onMessageSeen func(model.Message)

	// guarded by Controller.mu
	loading bool
	queued  []model.Frame
}

// push is a decoded message event.
type push struct {
	event string
	msg   model.Message
}

// Controller keeps one client's view of a conversation in sync with the
// server. Reconnecting after a drop is left to the caller.
type Controller struct {
	api     Service
	liveURL string
	userID  string
	dialer  *websocket.Dialer
	timeout time.Duration

	mu       sync.Mutex
	state    State
	ws       *websocket.Conn
	done     chan struct{}
	sub      *subscription
	messages []LocalMessage
	online   []string

	writeMu sync.Mutex
	updates chan struct{}
	pending sync.WaitGroup
}

// NewController returns a disconnected controller for userID.
func NewController(api Service, liveURL, userID string) *Controller {
	return &Controller{
		api:     api,
		liveURL: liveURL,
		userID:  userID,
		dialer:  websocket.DefaultDialer,
		timeout: 10 * time.Second,
		updates: make(chan struct{}, 1),
	}
}

// Connect opens the live connection and starts dispatching pushes.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = Connecting
	c.mu.Unlock()
	c.notify()

	ws, _, err := c.dialer.DialContext(ctx, c.liveURL, nil)
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("failed to connect: %w", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.ws = ws
	c.done = done
	c.state = Connected
	c.mu.Unlock()
	c.notify()

	go c.readLoop(ws, done)
	return nil
}

// Close ends the live connection and waits for the reader to stop.
func (c *Controller) Close() error {
	c.mu.Lock()
	ws, done := c.ws, c.done
	c.mu.Unlock()
	if ws == nil {
		return nil
	}

	c.writeMu.Lock()
	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := ws.Close()
	<-done
	c.pending.Wait()
	return err
}

// State reports the live connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SelectedPeer is the partner of the open conversation, or "".
func (c *Controller) SelectedPeer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub == nil {
		return ""
	}
	return c.sub.peerID
}

// Messages returns a snapshot of the open conversation.
func (c *Controller) Messages() []LocalMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LocalMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// OnlineUsers returns the last presence list pushed by the server.
func (c *Controller) OnlineUsers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.online))
	copy(out, c.online)
	return out
}

// Updates signals after any change of local state. Signals coalesce.
func (c *Controller) Updates() <-chan struct{} {
	return c.updates
}

// SelectPeer opens the conversation with peerID: it replaces the local list
// with the server history and marks everything addressed to this user as
// seen in one call. A failed mark-seen leaves those messages pending.
// Pushes arriving while the history loads are merged into it.
func (c *Controller) SelectPeer(ctx context.Context, peerID string) error {
	sub := &subscription{peerID: peerID, loading: true}
	sub.onNewMessage = func(m model.Message) { c.handleNewMessage(sub, m) }
	sub.onMessageSeen = c.handleMessageSeen

	c.mu.Lock()
	c.sub = sub
	c.messages = nil
	c.mu.Unlock()
	c.notify()

	msgs, err := c.api.Conversation(ctx, peerID)
	if err != nil {
		c.mu.Lock()
		if c.sub == sub {
			c.sub = nil
		}
		c.mu.Unlock()
		return err
	}

	local := make([]LocalMessage, 0, len(msgs))
	var unseen []string
	for _, m := range msgs {
		lm, mark := c.localMessage(m)
		if mark {
			unseen = append(unseen, m.ID)
		}
		local = append(local, lm)
	}

	c.mu.Lock()
	if c.sub != sub {
		// 読み込み中に別の会話が選ばれた
		c.mu.Unlock()
		return nil
	}
	c.messages = local
	queued := sub.queued
	sub.queued = nil
	sub.loading = false

	var seen []string
	for _, f := range queued {
		p, ok := decodePush(f)
		if !ok {
			continue
		}
		switch p.event {
		case model.EventNewMessage:
			if !p.msg.Involves(peerID) || c.indexOf(p.msg.ID) >= 0 {
				continue
			}
			lm, mark := c.localMessage(p.msg)
			if mark {
				unseen = append(unseen, p.msg.ID)
			}
			c.messages = append(c.messages, lm)
		case model.EventMessageSeen:
			seen = append(seen, p.msg.ID)
		}
	}
	c.mu.Unlock()
	c.notify()
	c.confirm(seen...)

	if len(unseen) == 0 {
		return nil
	}
	if _, err := c.api.MarkSeen(ctx, unseen); err != nil {
		log.Printf("[Client] ⚠️ mark-seen for %d messages failed, left pending: %v", len(unseen), err)
		return nil
	}
	c.confirm(unseen...)
	return nil
}

// Unsubscribe detaches the push handlers of the open conversation.
func (c *Controller) Unsubscribe() {
	c.mu.Lock()
	c.sub = nil
	c.mu.Unlock()
}

// SendText sends text to the selected peer and appends the stored record.
func (c *Controller) SendText(ctx context.Context, text string) (model.Message, error) {
	return c.send(func(peerID string) (model.Message, error) {
		return c.api.SendText(ctx, peerID, text)
	})
}

// SendImage uploads an image to the selected peer.
func (c *Controller) SendImage(ctx context.Context, filename string, r io.Reader) (model.Message, error) {
	return c.send(func(peerID string) (model.Message, error) {
		return c.api.SendImage(ctx, peerID, filename, r)
	})
}

// SendPDF uploads a PDF document to the selected peer.
func (c *Controller) SendPDF(ctx context.Context, filename string, r io.Reader) (model.Message, error) {
	return c.send(func(peerID string) (model.Message, error) {
		return c.api.SendPDF(ctx, peerID, filename, r)
	})
}

// send appends the server record only after the call succeeds.
func (c *Controller) send(call func(peerID string) (model.Message, error)) (model.Message, error) {
	peerID := c.SelectedPeer()
	if peerID == "" {
		return model.Message{}, ErrNoConversation
	}

	msg, err := call(peerID)
	if err != nil {
		return model.Message{}, err
	}

	c.mu.Lock()
	if c.sub != nil && c.sub.peerID == peerID && c.indexOf(msg.ID) < 0 {
		c.messages = append(c.messages, LocalMessage{Message: msg})
	}
	c.mu.Unlock()
	c.notify()
	return msg, nil
}

func (c *Controller) readLoop(ws *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[Client] Live connection lost: %v", err)
			}
			break
		}

		var f model.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Printf("[Client] ⚠️ Malformed frame: %v", err)
			continue
		}
		c.dispatch(f)
	}

	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
		c.state = Disconnected
	}
	c.mu.Unlock()
	ws.Close()
	c.notify()
}

func (c *Controller) dispatch(f model.Frame) {
	if f.Event == model.EventOnlineUsers {
		var ids []string
		if err := json.Unmarshal(f.Data, &ids); err != nil {
			log.Printf("[Client] ⚠️ Invalid %s payload: %v", f.Event, err)
			return
		}
		c.mu.Lock()
		c.online = ids
		c.mu.Unlock()
		c.notify()
		return
	}

	c.mu.Lock()
	sub := c.sub
	if sub != nil && sub.loading {
		sub.queued = append(sub.queued, f)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	if sub == nil {
		return
	}

	p, ok := decodePush(f)
	if !ok {
		return
	}
	switch p.event {
	case model.EventNewMessage:
		sub.onNewMessage(p.msg)
	case model.EventMessageSeen:
		sub.onMessageSeen(p.msg)
	}
}

// decodePush returns ok=false for frames that are not message events.
func decodePush(f model.Frame) (push, bool) {
	if f.Event != model.EventNewMessage && f.Event != model.EventMessageSeen {
		return push{}, false
	}
	var msg model.Message
	if err := json.Unmarshal(f.Data, &msg); err != nil {
		log.Printf("[Client] ⚠️ Invalid %s payload: %v", f.Event, err)
		return push{}, false
	}
	return push{event: f.Event, msg: msg}, true
}

// localMessage reports mark=true when msg is addressed to this user and not yet seen.
func (c *Controller) localMessage(msg model.Message) (lm LocalMessage, mark bool) {
	lm = LocalMessage{Message: msg}
	switch {
	case msg.Seen:
		lm.SeenState = SeenConfirmed
	case msg.ReceiverID == c.userID:
		lm.SeenState = SeenPending
		mark = true
	}
	return lm, mark
}

func (c *Controller) handleNewMessage(sub *subscription, msg model.Message) {
	if !msg.Involves(sub.peerID) {
		return
	}

	lm, markSeen := c.localMessage(msg)

	c.mu.Lock()
	if c.sub != sub {
		c.mu.Unlock()
		return
	}
	if c.indexOf(msg.ID) < 0 {
		c.messages = append(c.messages, lm)
	}
	c.mu.Unlock()
	c.notify()

	if !markSeen {
		return
	}

	// REST 呼び出しで受信ループを止めない
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		c.markSeen(msg)
	}()
}

// markSeen confirms one incoming message and hints the sender.
func (c *Controller) markSeen(msg model.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if _, err := c.api.MarkSeen(ctx, []string{msg.ID}); err != nil {
		log.Printf("[Client] ⚠️ mark-seen for message=%s failed, left pending: %v", msg.ID, err)
		return
	}
	c.confirm(msg.ID)

	// サーバー側の通知と重複するが送信者の既読表示を早める
	msg.Seen = true
	if err := c.emit(model.EventMessageSeen, msg); err != nil {
		log.Printf("[Client] ⚠️ Failed to send %s hint: %v", model.EventMessageSeen, err)
	}
}

func (c *Controller) handleMessageSeen(msg model.Message) {
	c.confirm(msg.ID)
}

// confirm marks local copies of ids as server-confirmed seen. Ids not in the
// loaded window are ignored.
func (c *Controller) confirm(ids ...string) {
	changed := false
	c.mu.Lock()
	for _, id := range ids {
		if i := c.indexOf(id); i >= 0 {
			c.messages[i].Message.Seen = true
			c.messages[i].SeenState = SeenConfirmed
			changed = true
		}
	}
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// indexOf must be called with c.mu held.
func (c *Controller) indexOf(id string) int {
	for i := range c.messages {
		if c.messages[i].Message.ID == id {
			return i
		}
	}
	return -1
}

func (c *Controller) emit(event string, payload any) error {
	frame, err := model.NewFrame(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return errors.New("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(c.timeout))
	return ws.WriteJSON(frame)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}
