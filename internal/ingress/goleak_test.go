// SPDX-License-Identifier: MIT

package ingress

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestServer_StartStop_NoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := baseStore()
	srv := newTestServer(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	if !srv.Listening() {
		t.Fatal("expected listener to be bound after Start")
	}

	if err := srv.Stop(); err != nil {
		t.Errorf("Stop() error: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() didn't return after Stop()")
	}
}
