// 文件: pkg/store/gorm.go
// GORM 存储实现 (MySQL / PostgreSQL)
//
// 【设计】
// - 批量更新放在一个事务里，要么全部成功要么整批重试
// - 部分更新用 map，只写 Delta 中设置了的字段
// - totalStaked 用 SUM 全量重算，不做增量维护

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"arena.com/pkg/agent"
	"arena.com/pkg/feed"
	"arena.com/pkg/liquidity"
	"arena.com/pkg/market"
)

var _ Store = (*GormStore)(nil)

// DBConfig 数据库配置
type DBConfig struct {
	Driver          string // mysql | postgres
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// Open 打开数据库并返回 GormStore
func Open(cfg DBConfig) (*GormStore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := NewGormStore(db)
	if cfg.AutoMigrate {
		if err := s.Migrate(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// GormStore GORM 实现
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate 建表
func (s *GormStore) Migrate() error {
	if err := s.db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func (s *GormStore) Configured() bool { return true }

// DB 底层连接 (测试清理用)
func (s *GormStore) DB() *gorm.DB { return s.db }

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// =============================================================================
// 仓位
// =============================================================================

// LoadAllPositions 加载全部仓位和最近的 PnL 采样
func (s *GormStore) LoadAllPositions(ctx context.Context) ([]*agent.Position, error) {
	var rows []agentRow
	if err := s.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, len(rows))
	out := make([]*agent.Position, len(rows))
	byID := make(map[string]*agent.Position, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
		out[i] = r.toPosition()
		byID[r.ID] = out[i]
	}

	var samples []pnlHistoryRow
	err := s.db.WithContext(ctx).
		Where("agent_id IN ?", ids).
		Order("created_at ASC, id ASC").
		Find(&samples).Error
	if err != nil {
		return nil, err
	}
	for _, h := range samples {
		if p, ok := byID[h.AgentID]; ok {
			p.AppendHistory(agent.PnLPoint{At: fromMilli(h.CreatedAt), Value: h.Value}, agent.DefaultHistoryCap)
		}
	}
	return out, nil
}

func (s *GormStore) InsertPosition(ctx context.Context, p *agent.Position) error {
	row := toAgentRow(p)
	now := time.Now().UnixMilli()
	if row.CreatedAt == 0 {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	return s.db.WithContext(ctx).Create(&row).Error
}

// BatchUpdatePositions 一个事务内逐条部分更新
func (s *GormStore) BatchUpdatePositions(ctx context.Context, deltas []agent.Delta) error {
	if len(deltas) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, d := range deltas {
			err := tx.Model(&agentRow{}).
				Where("id = ?", d.ID).
				Updates(deltaUpdates(d, now)).Error
			if err != nil {
				return fmt.Errorf("update agent %s: %w", d.ID, err)
			}
		}
		return nil
	})
}

func (s *GormStore) BatchInsertPnLHistory(ctx context.Context, samples []agent.HistorySample) error {
	if len(samples) == 0 {
		return nil
	}
	rows := make([]pnlHistoryRow, len(samples))
	for i, h := range samples {
		rows[i] = pnlHistoryRow{AgentID: h.AgentID, Value: h.Value, CreatedAt: toMilli(h.At)}
	}
	return s.db.WithContext(ctx).CreateInBatches(rows, 200).Error
}

// =============================================================================
// 市场
// =============================================================================

func (s *GormStore) UpsertMarketSnapshot(ctx context.Context, snap market.Snapshot) error {
	row, err := toMarketRow(snap)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (s *GormStore) GetMarketSnapshot(ctx context.Context, symbol string) (*market.Snapshot, error) {
	var row marketRow
	err := s.db.WithContext(ctx).Where("symbol = ?", symbol).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	snap := row.toSnapshot()
	return &snap, nil
}

func (s *GormStore) InsertPriceHistory(ctx context.Context, samples []market.PriceSample) error {
	if len(samples) == 0 {
		return nil
	}
	rows := make([]priceHistoryRow, len(samples))
	for i, p := range samples {
		rows[i] = priceHistoryRow{Symbol: p.Symbol, Price: p.Price, CreatedAt: toMilli(p.At)}
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}

// =============================================================================
// 质押
// =============================================================================

func (s *GormStore) GetPool(ctx context.Context, poolID string) (*liquidity.Pool, error) {
	var row poolRow
	err := s.db.WithContext(ctx).Where("id = ?", poolID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, liquidity.ErrPoolNotFound
		}
		return nil, err
	}
	return row.toPool(), nil
}

func (s *GormStore) ListStakes(ctx context.Context, poolID string) ([]*liquidity.Stake, error) {
	var rows []stakeRow
	if err := s.db.WithContext(ctx).Where("pool_id = ?", poolID).Order("user_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*liquidity.Stake, len(rows))
	for i, r := range rows {
		out[i] = r.toStake()
	}
	return out, nil
}

// RecomputeAndPersistTotalStaked SUM 全量重算并写回池
func (s *GormStore) RecomputeAndPersistTotalStaked(ctx context.Context, poolID string) (*liquidity.Pool, error) {
	var pool poolRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var total decimal.NullDecimal
		err := tx.Model(&stakeRow{}).
			Select("SUM(amount)").
			Where("pool_id = ?", poolID).
			Row().Scan(&total)
		if err != nil {
			return err
		}

		if err := s.lockPool(tx, poolID, &pool); err != nil {
			return err
		}
		pool.TotalStaked = decimal.Zero
		if total.Valid {
			pool.TotalStaked = total.Decimal
		}
		pool.UpdatedAt = time.Now().UnixMilli()
		return tx.Save(&pool).Error
	})
	if err != nil {
		return nil, err
	}
	return pool.toPool(), nil
}

// UpsertUserStake 本金/奖励增量，pending 绝对值
func (s *GormStore) UpsertUserStake(ctx context.Context, d liquidity.StakeDelta) (*liquidity.Stake, error) {
	var row stakeRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND pool_id = ?", d.UserID, d.PoolID).
			First(&row).Error
		now := time.Now()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row = stakeRow{ID: uuid.NewString(), UserID: d.UserID, PoolID: d.PoolID}
		} else if err != nil {
			return err
		}

		st := row.toStake()
		applyStakeDelta(st, d, now)
		row.Amount = st.Amount
		row.Rewards = st.Rewards
		row.PendingRewards = st.PendingRewards
		row.StakedAt = toMilli(st.StakedAt)
		row.UpdatedAt = now.UnixMilli()
		return tx.Save(&row).Error
	})
	if err != nil {
		return nil, err
	}
	return row.toStake(), nil
}

// ClaimStakeRewards pending -> rewards，池 totalRewards 累加
func (s *GormStore) ClaimStakeRewards(ctx context.Context, stakeID string) (*liquidity.Stake, error) {
	var row stakeRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", stakeID).First(&row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		claimed := row.PendingRewards
		now := time.Now().UnixMilli()
		row.Rewards = row.Rewards.Add(claimed)
		row.PendingRewards = decimal.Zero
		row.UpdatedAt = now
		if err := tx.Save(&row).Error; err != nil {
			return err
		}

		var pool poolRow
		if err := s.lockPool(tx, row.PoolID, &pool); err != nil {
			return err
		}
		pool.TotalRewards = pool.TotalRewards.Add(claimed)
		pool.UpdatedAt = now
		return tx.Save(&pool).Error
	})
	if err != nil {
		return nil, err
	}
	return row.toStake(), nil
}

// lockPool 加锁读取池，不存在时初始化
func (s *GormStore) lockPool(tx *gorm.DB, poolID string, pool *poolRow) error {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", poolID).First(pool).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		*pool = poolRow{ID: poolID, TotalStaked: decimal.Zero, TotalRewards: decimal.Zero}
		return nil
	}
	return err
}

// =============================================================================
// 用户
// =============================================================================

func (s *GormStore) GetUser(ctx context.Context, userID string) (*User, error) {
	var row userRow
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toUser(), nil
}

// ApplyWalletDeltas 一个事务内 balance = balance + ?，用户不存在时插入
func (s *GormStore) ApplyWalletDeltas(ctx context.Context, deltas []WalletDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, d := range deltas {
			row := userRow{ID: d.UserID, Balance: d.Amount, UpdatedAt: now}
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "id"}},
				DoUpdates: clause.Assignments(map[string]any{
					"balance":    gorm.Expr("arena_users.balance + ?", d.Amount),
					"updated_at": now,
				}),
			}).Create(&row).Error
			if err != nil {
				return fmt.Errorf("wallet %s: %w", d.UserID, err)
			}
		}
		return nil
	})
}

// =============================================================================
// 日志
// =============================================================================

func (s *GormStore) AppendLogEntries(ctx context.Context, entries []feed.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]logRow, len(entries))
	for i, e := range entries {
		rows[i] = toLogRow(e)
	}
	// 重试时 ID 相同，忽略重复
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}
