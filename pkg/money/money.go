// Package money 处理金额字符串与最小货币单位（分）的转换，全程使用十进制运算。
package money

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount 表示金额字符串格式不被接受。
	ErrInvalidAmount = errors.New("money: invalid amount")

	plainAmount     = regexp.MustCompile(`^\d+(?:\.\d{1,2})?$`)
	thousandsAmount = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?$`)
	hundred         = decimal.NewFromInt(100)
)

// ParseWalletAmount 严格解析外部传入的金额：
// 允许 "123"、"123.4"、"123.45" 与千分位 "1,234.56"；
// 拒绝负数、科学计数法、超过两位小数以及异常的逗号分组。
func ParseWalletAmount(value string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	if !plainAmount.MatchString(raw) && !thousandsAmount.MatchString(raw) {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ToCents 将金额换算为分，四舍五入（远离零）。
func ToCents(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

// StringToCents 把网关回传的金额换算为分，用于对账比较。
// 先按钱包格式解析（支持千分位），失败时退回任意十进制写法，例如 "50.000"、"50.004"。
func StringToCents(value string) (int64, error) {
	if d, err := ParseWalletAmount(value); err == nil {
		return ToCents(d), nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return ToCents(d), nil
}

// Format 以两位小数输出金额，例如 "10.00"。
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Total 计算 单价 * 数量，结果保留两位小数。
func Total(price decimal.Decimal, quantity int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(quantity))).Round(2)
}
