package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"

	"duochat/internal/model"
	"duochat/internal/presence"
)

type sent struct {
	connID string
	event  string
	msg    model.Message
}

type fakePusher struct {
	mu   sync.Mutex
	sent []sent
}

func (p *fakePusher) Send(connID, event string, payload any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg, _ := payload.(model.Message)
	p.sent = append(p.sent, sent{connID: connID, event: event, msg: msg})
	return true
}

type fakeSource struct {
	msgs map[string]model.Message
	err  error
}

func (s fakeSource) MessagesByID(_ context.Context, ids []string) ([]model.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []model.Message
	for _, id := range ids {
		if m, ok := s.msgs[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// TestRouter_OnMessageCreated 受信者がオンラインのときだけ1回プッシュ
func TestRouter_OnMessageCreated(t *testing.T) {
	reg := presence.New()
	pusher := &fakePusher{}
	r := NewRouter(reg, pusher, fakeSource{}, nil)
	ctx := context.Background()

	msg := model.Message{ID: "1", SenderID: "a", ReceiverID: "b", Text: "hi"}

	if r.OnMessageCreated(ctx, msg) {
		t.Error("Offline receiver should not be pushed")
	}
	if len(pusher.sent) != 0 {
		t.Fatalf("Expected no pushes, got %d", len(pusher.sent))
	}

	reg.Register("b", "conn-b")
	if !r.OnMessageCreated(ctx, msg) {
		t.Error("Online receiver should be pushed")
	}
	if len(pusher.sent) != 1 {
		t.Fatalf("Expected exactly one push, got %d", len(pusher.sent))
	}
	got := pusher.sent[0]
	if got.connID != "conn-b" || got.event != model.EventNewMessage || got.msg.ID != "1" {
		t.Errorf("Unexpected push %+v", got)
	}
}

// TestRouter_OnMessagesMarkedSeen 送信者と受信者の両方へ通知
func TestRouter_OnMessagesMarkedSeen(t *testing.T) {
	reg := presence.New()
	reg.Register("a", "conn-a")
	reg.Register("b", "conn-b")
	pusher := &fakePusher{}
	src := fakeSource{msgs: map[string]model.Message{
		"1": {ID: "1", SenderID: "a", ReceiverID: "b", Seen: true},
		"2": {ID: "2", SenderID: "b", ReceiverID: "a", Seen: true},
		"3": {ID: "3", SenderID: "a", ReceiverID: "b", Seen: false},
	}}
	r := NewRouter(reg, pusher, src, nil)

	n, err := r.OnMessagesMarkedSeen(context.Background(), "b", []string{"1", "2", "3", "404"})
	if err != nil {
		t.Fatalf("OnMessagesMarkedSeen failed: %v", err)
	}
	// 1 のみが b 宛てかつ既読
	if n != 2 || len(pusher.sent) != 2 {
		t.Fatalf("Expected 2 pushes, got n=%d sent=%d", n, len(pusher.sent))
	}

	targets := map[string]bool{}
	for _, s := range pusher.sent {
		if s.event != model.EventMessageSeen || s.msg.ID != "1" {
			t.Errorf("Unexpected push %+v", s)
		}
		targets[s.connID] = true
	}
	if !targets["conn-a"] || !targets["conn-b"] {
		t.Errorf("Expected pushes to both parties, got %v", targets)
	}
}

// TestRouter_OnMessagesMarkedSeen_SenderOffline 送信者オフラインなら受信者のみ
func TestRouter_OnMessagesMarkedSeen_SenderOffline(t *testing.T) {
	reg := presence.New()
	reg.Register("b", "conn-b")
	pusher := &fakePusher{}
	src := fakeSource{msgs: map[string]model.Message{
		"1": {ID: "1", SenderID: "a", ReceiverID: "b", Seen: true},
	}}
	r := NewRouter(reg, pusher, src, nil)

	n, _ := r.OnMessagesMarkedSeen(context.Background(), "b", []string{"1"})
	if n != 1 || pusher.sent[0].connID != "conn-b" {
		t.Errorf("Expected a single push to the receiver, got n=%d %+v", n, pusher.sent)
	}
}

// TestRouter_OnMessagesMarkedSeen_StoreError ストアエラーは呼び出し元へ返す
func TestRouter_OnMessagesMarkedSeen_StoreError(t *testing.T) {
	boom := errors.New("store unreachable")
	r := NewRouter(presence.New(), &fakePusher{}, fakeSource{err: boom}, nil)

	if _, err := r.OnMessagesMarkedSeen(context.Background(), "b", []string{"1"}); !errors.Is(err, boom) {
		t.Errorf("Expected store error, got %v", err)
	}
}
