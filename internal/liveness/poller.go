package liveness

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval は定期確認の既定間隔。
const DefaultInterval = 5 * time.Minute

// Scheduler は一定間隔のコールバック実行を抽象化する。
// テストでは仮想時間の実装を注入する。
type Scheduler interface {
	// Schedule はcallbackをinterval間隔で繰り返し実行し、
	// 停止用の関数を返す。
	Schedule(interval time.Duration, callback func()) (stop func())
}

// TickerScheduler はtime.Tickerによる実時間のScheduler実装。
type TickerScheduler struct{}

// Schedule はtime.Tickerでcallbackを繰り返し実行する。
func (TickerScheduler) Schedule(interval time.Duration, callback func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				callback()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

// Poller は単一アカウントの有効状態を定期的に確認し、
// 無効を検出したら強制ログアウトコールバックを一度だけ発火して停止する。
type Poller struct {
	guard     *Guard
	scheduler Scheduler
	interval  time.Duration
	logger    *slog.Logger

	mu   sync.Mutex
	stop func()
}

// NewPoller はPollerを生成する。intervalが0以下の場合は既定値を使う。
func NewPoller(guard *Guard, scheduler Scheduler, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		guard:     guard,
		scheduler: scheduler,
		interval:  interval,
		logger:    logger,
	}
}

// Start はaccountIDの定期確認を開始する。
// active=falseを検出するとonForceLogoutを発火し、以後の確認を止める。
func (p *Poller) Start(ctx context.Context, accountID string, onForceLogout func(accountID string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return
	}

	p.stop = p.scheduler.Schedule(p.interval, func() {
		status := p.guard.Check(ctx, accountID)
		if status.Active {
			return
		}

		p.logger.Info("無効化されたアカウントを検出しました",
			slog.String("account_id", accountID),
		)
		p.Stop()
		onForceLogout(accountID)
	})
}

// Stop は定期確認を停止する。複数回呼んでも安全。
func (p *Poller) Stop() {
	p.mu.Lock()
	stop := p.stop
	p.stop = nil
	p.mu.Unlock()

	if stop != nil {
		stop()
	}
}
