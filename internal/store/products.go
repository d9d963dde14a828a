package store

import (
	"context"
	"fmt"

	"card_shop/internal/model"

	"gorm.io/gorm"
)

// ProductStore 商品读取与销量累加。
type ProductStore struct {
	db *gorm.DB
}

func (s *ProductStore) Get(ctx context.Context, id uint) (*model.Product, error) {
	var p model.Product
	if err := s.db.WithContext(ctx).Take(&p, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// List 返回商品列表，activeOnly 时只含上架商品。
func (s *ProductStore) List(ctx context.Context, activeOnly bool) ([]model.Product, error) {
	q := s.db.WithContext(ctx).Order("id ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var products []model.Product
	if err := q.Find(&products).Error; err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

func (s *ProductStore) Create(ctx context.Context, p *model.Product) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

// IncrementSales 原子累加销量。
func (s *ProductStore) IncrementSales(ctx context.Context, productID uint, delta int) error {
	res := s.db.WithContext(ctx).Model(&model.Product{}).
		Where("id = ?", productID).
		UpdateColumn("sales_count", gorm.Expr("sales_count + ?", delta))
	if res.Error != nil {
		return fmt.Errorf("increment sales: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
