package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openstation/engine/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"datagram_tx", snap.DatagramTx,
					"datagram_rx", snap.DatagramRx,
					"decode_errors", snap.DecodeErrors,
					"tcp_dropped", snap.TcpDropped,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
