package payment

import (
	"card_shop/internal/config"
	"card_shop/internal/model"
	"card_shop/pkg/money"
)

// Request 跳转网关所需的提交地址与表单参数。
type Request struct {
	URL    string            `json:"url"`
	Params map[string]string `json:"params"`
}

// BuildPaymentRequest 为订单构造带签名的网关提交参数。
func BuildPaymentRequest(cfg config.PaymentConfig, order *model.Order) Request {
	params := map[string]string{
		"pid":          cfg.MerchantPID,
		"type":         "epay",
		"out_trade_no": order.OrderNo,
		"notify_url":   cfg.NotifyURL,
		"return_url":   cfg.ReturnURL,
		"name":         order.ProductName,
		"money":        money.Format(order.TotalAmount),
	}
	params["sign"] = Sign(params, cfg.Secret)
	params["sign_type"] = SignTypeMD5
	return Request{URL: cfg.GatewayURL, Params: params}
}
