// 文件: pkg/sim/lanes.go
// 写入通道装配
//
// 所有写入前只检查一次 store.Configured()，未配置时直接视为成功

package sim

import (
	"context"

	"arena.com/pkg/agent"
	"arena.com/pkg/feed"
	"arena.com/pkg/market"
	"arena.com/pkg/reconcile"
	"arena.com/pkg/store"
)

// lanes 模拟使用的全部写入通道 (质押通道由 liquidity.Service 持有)
type lanes struct {
	positions *reconcile.Lane[agent.Delta]
	history   *reconcile.Lane[agent.HistorySample]
	markets   *reconcile.Lane[market.Snapshot]
	prices    *reconcile.Lane[market.PriceSample]
	wallet    *reconcile.Lane[store.WalletDelta]
	logs      *reconcile.Lane[feed.Entry]
}

func newLanes(st store.Store) lanes {
	return lanes{
		positions: reconcile.NewLane("positions", guarded(st, st.BatchUpdatePositions)).
			WithCompact(agent.CompactDeltas),
		history: reconcile.NewLane("pnl_history", guarded(st, st.BatchInsertPnLHistory)),
		markets: reconcile.NewLane("markets", guarded(st, func(ctx context.Context, snaps []market.Snapshot) error {
			for _, s := range snaps {
				if err := st.UpsertMarketSnapshot(ctx, s); err != nil {
					return err
				}
			}
			return nil
		})).WithCompact(latestPerSymbol),
		prices: reconcile.NewLane("price_history", guarded(st, st.InsertPriceHistory)),
		// 钱包增量在一个事务内提交，失败时整批重试不会重复入账
		wallet: reconcile.NewLane("wallet", guarded(st, st.ApplyWalletDeltas)).
			WithCompact(sumPerUser),
		logs: reconcile.NewLane("logs", guarded(st, st.AppendLogEntries)),
	}
}

func (l lanes) flushers() []reconcile.Flusher {
	return []reconcile.Flusher{l.positions, l.history, l.markets, l.prices, l.wallet, l.logs}
}

func guarded[T any](st store.Store, write reconcile.WriteFunc[T]) reconcile.WriteFunc[T] {
	return func(ctx context.Context, batch []T) error {
		if !st.Configured() {
			return nil
		}
		return write(ctx, batch)
	}
}

// latestPerSymbol 同一资产只保留最新快照
func latestPerSymbol(snaps []market.Snapshot) []market.Snapshot {
	idx := make(map[string]int, len(snaps))
	out := make([]market.Snapshot, 0, len(snaps))
	for _, s := range snaps {
		if i, ok := idx[s.Symbol]; ok {
			out[i] = s
			continue
		}
		idx[s.Symbol] = len(out)
		out = append(out, s)
	}
	return out
}

// sumPerUser 同一用户的钱包增量相加
func sumPerUser(deltas []store.WalletDelta) []store.WalletDelta {
	idx := make(map[string]int, len(deltas))
	out := make([]store.WalletDelta, 0, len(deltas))
	for _, d := range deltas {
		if i, ok := idx[d.UserID]; ok {
			out[i].Amount += d.Amount
			continue
		}
		idx[d.UserID] = len(out)
		out = append(out, d)
	}
	return out
}
