package lock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/iouledger/internal/models"
)

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx := context.Background()
	locker, rdb, err := Dial(ctx, addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer rdb.Close()
	key := "test-" + uuid.NewString()

	unlock, err := locker.Lock(ctx, key)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	busyCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(busyCtx, key); err == nil {
		t.Fatal("second Lock succeeded while the key was held")
	} else if !errors.Is(err, models.ErrConflict) && !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want ErrConflict or DeadlineExceeded", err)
	}

	unlock()
	again, err := locker.Lock(ctx, key)
	if err != nil {
		t.Fatalf("Lock after release failed: %v", err)
	}
	again()
}
