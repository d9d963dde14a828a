package payment

import (
	"net/url"
	"strings"
)

// TradeSuccess 网关表示支付成功的 trade_status。
const TradeSuccess = "TRADE_SUCCESS"

// NotifyParams 网关异步回调参数。
type NotifyParams struct {
	PID         string
	TradeNo     string
	OutTradeNo  string
	Type        string
	Name        string
	Money       string
	TradeStatus string
	SignType    string
	Sign        string
}

// ParseNotify 从 query 中读取回调字段，缺失的字段为空串。
// 字段保持原样：网关按原始值签名，去空白只能在比较时做。
func ParseNotify(q url.Values) NotifyParams {
	return NotifyParams{
		PID:         q.Get("pid"),
		TradeNo:     q.Get("trade_no"),
		OutTradeNo:  q.Get("out_trade_no"),
		Type:        q.Get("type"),
		Name:        q.Get("name"),
		Money:       q.Get("money"),
		TradeStatus: q.Get("trade_status"),
		SignType:    q.Get("sign_type"),
		Sign:        q.Get("sign"),
	}
}

// OrderNo 用于查单的订单号。
func (p NotifyParams) OrderNo() string { return strings.TrimSpace(p.OutTradeNo) }

// Merchant 用于比对的商户号。
func (p NotifyParams) Merchant() string { return strings.TrimSpace(p.PID) }

// Missing 返回缺失的必填字段名。
func (p NotifyParams) Missing() []string {
	var missing []string
	required := []struct {
		name, value string
	}{
		{"out_trade_no", p.OutTradeNo},
		{"sign", p.Sign},
		{"pid", p.PID},
		{"trade_no", p.TradeNo},
		{"money", p.Money},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// Succeeded 判断 trade_status 是否为支付成功。
func (p NotifyParams) Succeeded() bool {
	return strings.TrimSpace(p.TradeStatus) == TradeSuccess
}

// Map 返回参与验签的完整参数表（包含 sign/sign_type，由 Sign 自行剔除）。
func (p NotifyParams) Map() map[string]string {
	return map[string]string{
		"pid":          p.PID,
		"trade_no":     p.TradeNo,
		"out_trade_no": p.OutTradeNo,
		"type":         p.Type,
		"name":         p.Name,
		"money":        p.Money,
		"trade_status": p.TradeStatus,
		"sign_type":    p.SignType,
		"sign":         p.Sign,
	}
}
