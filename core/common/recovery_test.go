package common

import (
	"context"
	"testing"
	"time"
)

func TestRecoverPanic(t *testing.T) {
	ctx := context.Background()

	t.Run("正常执行无影响", func(t *testing.T) {
		defer RecoverPanic(ctx, "test-normal")
		_ = 1 + 1
	})

	t.Run("捕获panic", func(t *testing.T) {
		recovered := false

		func() {
			defer func() {
				recovered = true
			}()
			defer RecoverPanic(ctx, "test-panic")
			panic("test panic")
		}()

		if !recovered {
			t.Error("expected panic to be recovered")
		}
	})
}

func TestSafeGo(t *testing.T) {
	ctx := context.Background()

	t.Run("正常执行", func(t *testing.T) {
		done := make(chan bool, 1)
		SafeGo(ctx, "test-normal-goroutine", func() {
			done <- true
		})

		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
			t.Error("goroutine did not complete in time")
		}
	})

	t.Run("panic不外溢", func(t *testing.T) {
		done := make(chan bool, 1)
		SafeGo(ctx, "test-panic-goroutine", func() {
			defer func() {
				done <- true
			}()
			panic("intentional panic")
		})

		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
			t.Error("goroutine did not complete in time")
		}
	})
}
