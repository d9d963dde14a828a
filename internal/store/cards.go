package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	dbutil "card_shop/internal/db"
	"card_shop/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockCount 某商品各状态卡密数量。
type StockCount struct {
	Available int64 `json:"available"`
	Locked    int64 `json:"locked"`
	Sold      int64 `json:"sold"`
}

// CardStore 卡密库存：预占、售出、释放都在存储层原子完成。
type CardStore struct {
	db *gorm.DB
}

// Reserve 在一个事务里为 orderID 锁定 quantity 张可用卡密。
// 候选行按 created_at, id 排序并加行锁（PostgreSQL FOR UPDATE；SQLite 写事务本身串行），
// UPDATE 再以 status = available 作为守卫，任何一步不足 quantity 即整体回滚。
func (c *CardStore) Reserve(ctx context.Context, productID uint, quantity int, orderID uint) ([]uint, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("store: reserve quantity must be > 0, got %d", quantity)
	}

	var ids []uint
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&model.Card{}).
			Where("product_id = ? AND status = ?", productID, model.CardAvailable).
			Order("created_at ASC, id ASC").
			Limit(quantity)
		if !dbutil.IsSQLite(tx) {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := q.Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("select available cards: %w", err)
		}
		if len(ids) < quantity {
			return ErrInsufficientStock
		}

		now := time.Now().UTC()
		res := tx.Model(&model.Card{}).
			Where("id IN ? AND status = ?", ids, model.CardAvailable).
			Updates(map[string]any{
				"status":    model.CardLocked,
				"order_id":  orderID,
				"locked_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("lock cards: %w", res.Error)
		}
		if res.RowsAffected != int64(quantity) {
			return ErrInsufficientStock
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// MarkSold 将订单占用的 locked 卡密置为 sold。
// 重放时已无 locked 卡密，返回此前已售出的数量，sold_at 不会被重复写入。
func (c *CardStore) MarkSold(ctx context.Context, orderID uint) (int64, error) {
	res := c.db.WithContext(ctx).Model(&model.Card{}).
		Where("order_id = ? AND status = ?", orderID, model.CardLocked).
		Updates(map[string]any{
			"status":  model.CardSold,
			"sold_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("mark cards sold: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return res.RowsAffected, nil
	}

	var sold int64
	if err := c.db.WithContext(ctx).Model(&model.Card{}).
		Where("order_id = ? AND status = ?", orderID, model.CardSold).
		Count(&sold).Error; err != nil {
		return 0, fmt.Errorf("count sold cards: %w", err)
	}
	return sold, nil
}

// Release 将订单占用的 locked 卡密退回 available，并清空 order_id / locked_at。
// 已售出的卡密不受影响。
func (c *CardStore) Release(ctx context.Context, orderID uint) (int64, error) {
	res := c.db.WithContext(ctx).Model(&model.Card{}).
		Where("order_id = ? AND status = ?", orderID, model.CardLocked).
		Updates(map[string]any{
			"status":    model.CardAvailable,
			"order_id":  nil,
			"locked_at": nil,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("release cards: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CountLocked 返回订单仍处于 locked 的卡密数量。
func (c *CardStore) CountLocked(ctx context.Context, orderID uint) (int64, error) {
	var n int64
	if err := c.db.WithContext(ctx).Model(&model.Card{}).
		Where("order_id = ? AND status = ?", orderID, model.CardLocked).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count locked cards: %w", err)
	}
	return n, nil
}

// ContentsFor 返回订单已售卡密内容，按 id 排序；没有则返回空切片。
func (c *CardStore) ContentsFor(ctx context.Context, orderID uint) ([]string, error) {
	contents := make([]string, 0)
	if err := c.db.WithContext(ctx).Model(&model.Card{}).
		Where("order_id = ? AND status = ?", orderID, model.CardSold).
		Order("id ASC").
		Pluck("content", &contents).Error; err != nil {
		return nil, fmt.Errorf("load card contents: %w", err)
	}
	return contents, nil
}

// Provision 批量导入卡密，空行与同批次重复内容会被跳过，返回实际写入数量。
func (c *CardStore) Provision(ctx context.Context, productID uint, contents []string) (int, error) {
	seen := make(map[string]struct{}, len(contents))
	cards := make([]model.Card, 0, len(contents))
	for _, raw := range contents {
		content := strings.TrimSpace(raw)
		if content == "" {
			continue
		}
		if _, ok := seen[content]; ok {
			continue
		}
		seen[content] = struct{}{}
		cards = append(cards, model.Card{
			ProductID: productID,
			Content:   content,
			Status:    model.CardAvailable,
		})
	}
	if len(cards) == 0 {
		return 0, nil
	}
	if err := c.db.WithContext(ctx).CreateInBatches(&cards, 500).Error; err != nil {
		return 0, fmt.Errorf("provision cards: %w", err)
	}
	return len(cards), nil
}

// Stock 统计商品各状态卡密数量。
func (c *CardStore) Stock(ctx context.Context, productID uint) (StockCount, error) {
	var rows []struct {
		Status model.CardStatus
		N      int64
	}
	if err := c.db.WithContext(ctx).Model(&model.Card{}).
		Select("status, COUNT(*) AS n").
		Where("product_id = ?", productID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return StockCount{}, fmt.Errorf("count stock: %w", err)
	}

	var out StockCount
	for _, r := range rows {
		switch r.Status {
		case model.CardAvailable:
			out.Available = r.N
		case model.CardLocked:
			out.Locked = r.N
		case model.CardSold:
			out.Sold = r.N
		}
	}
	return out, nil
}
