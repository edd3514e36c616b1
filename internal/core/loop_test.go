package core_test

import (
	"RTokenLedger/internal/core"
	"RTokenLedger/internal/testutil"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func startLoop(t *testing.T) (*core.Loop, context.CancelFunc, chan error) {
	t.Helper()
	c := core.NewDeterministicCore(0, testutil.NewProtocol(t), nil, nil, nil, nil, zerolog.Nop())
	loop := core.NewLoop(c, 16, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run(ctx) }()
	return loop, cancel, errCh
}

func TestLoop_SubmitReturnsVerdict(t *testing.T) {
	loop, cancel, _ := startLoop(t)
	defer cancel()
	ctx := context.Background()

	if err := loop.Submit(ctx, mustOracleUpdate("USDC/USD", "1", 1, at(0))); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if loop.Sequence() != 1 {
		t.Errorf("sequence = %d, want 1", loop.Sequence())
	}

	if err := loop.Submit(ctx, mustRedemption("1", 0)); err == nil {
		t.Fatal("redemption with zero supply should be rejected")
	}
	if loop.Sequence() != 1 {
		t.Errorf("rejected event moved the sequence to %d", loop.Sequence())
	}
}

func TestLoop_ConcurrentSubmitsAreSerialized(t *testing.T) {
	loop, cancel, _ := startLoop(t)
	defer cancel()

	var wg sync.WaitGroup
	feeds := []string{"USDC/USD", "DAI/USD", "RSR/USD"}
	for _, feed := range feeds {
		wg.Add(1)
		go func(feed string) {
			defer wg.Done()
			for i := int64(1); i <= 20; i++ {
				if err := loop.Submit(context.Background(), mustOracleUpdate(feed, "1", i, at(time.Duration(i)*time.Second))); err != nil {
					t.Errorf("%s #%d: %v", feed, i, err)
				}
			}
		}(feed)
	}
	wg.Wait()

	snap, err := loop.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Sequence != 59 {
		t.Errorf("last sequence = %d, want 59", snap.Sequence)
	}
	for _, feed := range feeds {
		if snap.Feeds[feed].Sequence != 20 {
			t.Errorf("%s at feed sequence %d, want 20", feed, snap.Feeds[feed].Sequence)
		}
	}
}

func TestLoop_StoppedLoopRefusesWork(t *testing.T) {
	loop, cancel, errCh := startLoop(t)
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run: %v", err)
	}

	err := loop.Submit(context.Background(), mustRefresh(0, 0))
	if !errors.Is(err, core.ErrLoopStopped) {
		t.Fatalf("expected ErrLoopStopped, got %v", err)
	}
}
