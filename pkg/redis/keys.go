package redis

import "fmt"

// StockKey 商品可售库存的展示缓存键。
func StockKey(productID uint) string {
	return fmt.Sprintf("card_shop:stock:%d", productID)
}

// RateLimitKey 下单限流键，subject 形如 user:<id>、email:<addr>、ip:<addr>。
func RateLimitKey(scope, subject string) string {
	return fmt.Sprintf("card_shop:rate_limit:%s:%s", scope, subject)
}
