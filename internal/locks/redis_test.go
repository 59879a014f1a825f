package locks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const testLeaseTTL = 10 * time.Second

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	l := NewRedisLocker(client, testLeaseTTL, zap.NewNop())
	l.retryDelay = 5 * time.Millisecond
	return l, mr
}

func TestRedisLocker_AcquireAndRelease(t *testing.T) {
	l, mr := newRedisLocker(t)
	key := "quariarbox:lock:QBX-0000000001"

	unlock, err := l.Lock(context.Background(), "QBX-0000000001")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if !mr.Exists(key) {
		t.Fatalf("lease %s not stored", key)
	}
	if ttl := mr.TTL(key); ttl != testLeaseTTL {
		t.Errorf("lease ttl = %v, want %v", ttl, testLeaseTTL)
	}

	unlock()
	if mr.Exists(key) {
		t.Error("lease still present after unlock")
	}
}

func TestRedisLocker_Contention(t *testing.T) {
	l, _ := newRedisLocker(t)

	unlockFirst, err := l.Lock(context.Background(), "QBX-0000000002")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	acquired := make(chan func(), 1)
	go func() {
		unlock, err := l.Lock(context.Background(), "QBX-0000000002")
		if err != nil {
			t.Errorf("second Lock() error = %v", err)
			close(acquired)
			return
		}
		acquired <- unlock
	}()

	select {
	case <-acquired:
		t.Fatal("second caller acquired a held lease")
	case <-time.After(50 * time.Millisecond):
	}

	other, err := l.Lock(context.Background(), "QBX-0000000003")
	if err != nil {
		t.Fatalf("Lock() on a different key error = %v", err)
	}
	other()

	unlockFirst()
	select {
	case unlock, ok := <-acquired:
		if ok {
			unlock()
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never acquired the released lease")
	}
}

func TestRedisLocker_ContextTimeout(t *testing.T) {
	l, _ := newRedisLocker(t)

	unlock, err := l.Lock(context.Background(), "QBX-0000000004")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = l.Lock(ctx, "QBX-0000000004")
	if !errors.Is(err, ErrNotAcquired) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Lock() error = %v, want ErrNotAcquired and DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Lock() returned after %v, want it to stop at the deadline", elapsed)
	}
}

func TestRedisLocker_ExpiredHolderKeepsNewLease(t *testing.T) {
	l, mr := newRedisLocker(t)
	key := "quariarbox:lock:QBX-0000000005"

	unlockStale, err := l.Lock(context.Background(), "QBX-0000000005")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	staleToken, _ := mr.Get(key)

	mr.FastForward(testLeaseTTL + time.Second)
	if mr.Exists(key) {
		t.Fatal("lease did not expire")
	}

	unlockFresh, err := l.Lock(context.Background(), "QBX-0000000005")
	if err != nil {
		t.Fatalf("Lock() after expiry error = %v", err)
	}
	freshToken, _ := mr.Get(key)
	if freshToken == staleToken {
		t.Fatal("new lease reused the expired token")
	}

	unlockStale()
	if got, err := mr.Get(key); err != nil || got != freshToken {
		t.Fatalf("expired holder released the new lease: value=%q err=%v", got, err)
	}

	unlockFresh()
	if mr.Exists(key) {
		t.Error("lease still present after its holder unlocked")
	}
}

func TestRedisLocker_DoubleUnlock(t *testing.T) {
	l, mr := newRedisLocker(t)
	key := "quariarbox:lock:QBX-0000000006"

	unlock, err := l.Lock(context.Background(), "QBX-0000000006")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	unlock()
	unlock()

	next, err := l.Lock(context.Background(), "QBX-0000000006")
	if err != nil {
		t.Fatalf("Lock() after release error = %v", err)
	}
	unlock()
	if !mr.Exists(key) {
		t.Fatal("repeated unlock released the next holder's lease")
	}
	next()
}

func TestRedisLocker_ServerDown(t *testing.T) {
	l, mr := newRedisLocker(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := l.Lock(ctx, "QBX-0000000007"); err == nil || errors.Is(err, ErrNotAcquired) {
		t.Fatalf("Lock() error = %v, want a connection error", err)
	}
}
