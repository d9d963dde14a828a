// Package testutil provides shared fixtures for database-backed tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"card_shop/internal/db"
	"card_shop/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB opens a migrated in-memory SQLite database.
// A single connection is used so concurrent transactions serialise the same way
// a real writer lock would, and every goroutine sees the same in-memory database.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

// CreateProduct inserts an active product with the given price.
func CreateProduct(t *testing.T, conn *gorm.DB, name, price string) model.Product {
	t.Helper()

	p := model.Product{
		Name:        name,
		Price:       decimal.RequireFromString(price),
		MinQuantity: 1,
		MaxQuantity: 10,
		IsActive:    true,
	}
	if err := conn.Create(&p).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	return p
}

// CreateCards inserts n available cards for a product with predictable contents.
func CreateCards(t *testing.T, conn *gorm.DB, productID uint, n int) []model.Card {
	t.Helper()

	if n <= 0 {
		return nil
	}
	base := time.Now().UTC().Add(-time.Hour)
	cards := make([]model.Card, 0, n)
	for i := 0; i < n; i++ {
		cards = append(cards, model.Card{
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			ProductID: productID,
			Content:   fmt.Sprintf("CODE-%d-%03d", productID, i+1),
			Status:    model.CardAvailable,
		})
	}
	if err := conn.Create(&cards).Error; err != nil {
		t.Fatalf("create cards: %v", err)
	}
	return cards
}

// CardsOf loads every card of a product ordered by id.
func CardsOf(t *testing.T, conn *gorm.DB, productID uint) []model.Card {
	t.Helper()

	var cards []model.Card
	if err := conn.Where("product_id = ?", productID).Order("id ASC").Find(&cards).Error; err != nil {
		t.Fatalf("load cards: %v", err)
	}
	return cards
}

// OrderByNo loads an order by its number.
func OrderByNo(t *testing.T, conn *gorm.DB, orderNo string) model.Order {
	t.Helper()

	var o model.Order
	if err := conn.Where("order_no = ?", orderNo).First(&o).Error; err != nil {
		t.Fatalf("load order %s: %v", orderNo, err)
	}
	return o
}
