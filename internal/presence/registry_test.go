package presence

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
)

// TestRegisterLookup 登録と検索
func TestRegisterLookup(t *testing.T) {
	r := New()
	r.Register("alice", "c1")

	connID, ok := r.Lookup("alice")
	if !ok || connID != "c1" {
		t.Errorf("Expected c1, got %q (ok=%v)", connID, ok)
	}

	if _, ok := r.Lookup("bob"); ok {
		t.Error("bob should not be online")
	}
}

// TestRegister_LastConnectWins 同一ユーザーの再接続は上書きされる
func TestRegister_LastConnectWins(t *testing.T) {
	r := New()
	r.Register("alice", "c1")
	r.Register("alice", "c2")

	connID, _ := r.Lookup("alice")
	if connID != "c2" {
		t.Errorf("Expected newest connection c2, got %q", connID)
	}
	if r.Len() != 1 {
		t.Errorf("Expected a single entry, got %d", r.Len())
	}
}

// TestUnregister_StaleCloseKeepsNewerConnection 古い切断が新しい接続を消さない
func TestUnregister_StaleCloseKeepsNewerConnection(t *testing.T) {
	r := New()
	r.Register("alice", "c1")
	r.Register("alice", "c2")

	if r.Unregister("alice", "c1") {
		t.Error("Stale unregister should report false")
	}
	if connID, ok := r.Lookup("alice"); !ok || connID != "c2" {
		t.Errorf("Newer connection was evicted: %q ok=%v", connID, ok)
	}

	if !r.Unregister("alice", "c2") {
		t.Error("Matching unregister should report true")
	}
	if _, ok := r.Lookup("alice"); ok {
		t.Error("alice should be offline")
	}
}

// TestListOnline_ConnectsMinusDisconnects N接続・M切断後に N-M が残る
func TestListOnline_ConnectsMinusDisconnects(t *testing.T) {
	r := New()
	for i := 0; i < 5; i++ {
		r.Register(fmt.Sprintf("u%d", i), fmt.Sprintf("c%d", i))
	}
	r.Unregister("u1", "c1")
	r.Unregister("u3", "c3")

	got := r.ListOnline()
	want := []string{"u0", "u2", "u4"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

// TestConcurrentAccess 並行アクセスでデータ競合が起きない
func TestConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := fmt.Sprintf("u%d", i)
			connID := fmt.Sprintf("c%d", i)
			r.Register(userID, connID)
			r.Lookup(userID)
			r.ListOnline()
			if i%2 == 0 {
				r.Unregister(userID, connID)
			}
		}(i)
	}
	wg.Wait()

	if r.Len() != 25 {
		t.Errorf("Expected 25 online users, got %d", r.Len())
	}
}
