package main

import (
	"strings"
	"testing"
	"time"

	"duochat/internal/auth"
	"duochat/internal/client"
	"duochat/internal/model"
)

// TestSubject 検証なしでトークンから subject を取り出す
func TestSubject(t *testing.T) {
	tok, err := auth.NewIssuer("any-secret").Issue("alice")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	got, err := subject(tok)
	if err != nil || got != "alice" {
		t.Errorf("Expected alice, got %q (%v)", got, err)
	}

	if _, err := subject("not.a.token"); err == nil {
		t.Error("Malformed token should fail")
	}
}

// TestViewLine 自分の送信は me、添付は参照付きで表示
func TestViewLine(t *testing.T) {
	v := newView("alice")
	created := time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC)

	tests := []struct {
		name string
		msg  client.LocalMessage
		want []string
	}{
		{
			name: "own text",
			msg:  client.LocalMessage{Message: model.Message{ID: "1", SenderID: "alice", Text: "hi", CreatedAt: created}},
			want: []string{"me:", "hi", "✓"},
		},
		{
			name: "peer image confirmed",
			msg: client.LocalMessage{
				Message:   model.Message{ID: "2", SenderID: "bob", Image: "/images/x.png", CreatedAt: created},
				SeenState: client.SeenConfirmed,
			},
			want: []string{"bob:", "[image /images/x.png]", "✓✓"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := v.line(tt.msg)
			for _, w := range tt.want {
				if !strings.Contains(line, w) {
					t.Errorf("line %q missing %q", line, w)
				}
			}
		})
	}
}
