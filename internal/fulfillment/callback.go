package fulfillment

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"card_shop/internal/model"
	"card_shop/internal/payment"
	"card_shop/internal/queue"
	"card_shop/internal/store"
	"card_shop/pkg/money"

	log "github.com/sirupsen/logrus"
)

// Outcome 回调处理结果分类，用于日志与测试断言。
type Outcome string

const (
	OutcomeCompleted Outcome = "completed" // 本次回调完成了 pending -> completed
	OutcomeReplay    Outcome = "replay"    // 订单此前已确认收款
	OutcomeIgnored   Outcome = "ignored"   // 非成功交易或订单已终态，不改变状态
	OutcomeRejected  Outcome = "rejected"  // 参数、签名、商户、订单或金额校验失败
	OutcomeRetry     Outcome = "retry"     // 内部错误，需要网关重试
)

const (
	bodySuccess = "success"
	bodyFail    = "fail"
)

// CallbackResult 网关期望的响应体与 HTTP 状态码。
type CallbackResult struct {
	Status  int
	Body    string
	Outcome Outcome
	Reason  string
}

func accepted(o Outcome, reason string) CallbackResult {
	return CallbackResult{Status: http.StatusOK, Body: bodySuccess, Outcome: o, Reason: reason}
}

func rejected(reason string) CallbackResult {
	return CallbackResult{Status: http.StatusBadRequest, Body: bodyFail, Outcome: OutcomeRejected, Reason: reason}
}

func retry(reason string) CallbackResult {
	return CallbackResult{Status: http.StatusInternalServerError, Body: bodyFail, Outcome: OutcomeRetry, Reason: reason}
}

// HandleCallback 处理一次网关异步通知，可被任意重复、乱序调用。
// 只有 pending -> completed 的 CAS 成功者才会把卡密置为 sold；已提交的 completed 永不回退。
func (e *Engine) HandleCallback(ctx context.Context, channel string, p payment.NotifyParams) CallbackResult {
	entry := log.WithFields(log.Fields{
		"order_no": p.OrderNo(),
		"trade_no": p.TradeNo,
		"channel":  channel,
	})

	if missing := p.Missing(); len(missing) > 0 {
		entry.WithField("missing", missing).Warn("notify: missing required fields")
		return rejected("missing_fields")
	}
	if !e.verifier.AcceptsSignType(strings.TrimSpace(p.SignType)) {
		entry.WithField("sign_type", p.SignType).Warn("notify: unsupported sign_type")
		return rejected("unsupported_sign_type")
	}
	if !e.verifier.Verify(p.Map(), e.payCfg.Secret) {
		entry.Warn("notify: signature mismatch")
		return rejected("bad_signature")
	}
	if p.Merchant() != e.payCfg.MerchantPID {
		entry.WithFields(log.Fields{"pid": p.PID, "expected": e.payCfg.MerchantPID}).Error("notify: merchant mismatch")
		return rejected("merchant_mismatch")
	}

	order, err := e.store.Orders.GetByOrderNo(ctx, p.OrderNo())
	if errors.Is(err, store.ErrNotFound) {
		entry.Warn("notify: order not found")
		return rejected("order_not_found")
	}
	if err != nil {
		entry.WithError(err).Error("notify: load order")
		return retry("load_order")
	}

	if string(order.PaymentMethod) != channel {
		entry.WithField("payment_method", order.PaymentMethod).Error("notify: payment method mismatch")
		return rejected("method_mismatch")
	}

	received, err := money.StringToCents(p.Money)
	if err != nil || received != money.ToCents(order.TotalAmount) {
		entry.WithFields(log.Fields{
			"expected": money.Format(order.TotalAmount),
			"received": p.Money,
		}).Error("notify: amount mismatch")
		return rejected("amount_mismatch")
	}

	if order.Status.Settled() {
		return accepted(OutcomeReplay, "already_settled")
	}
	if !p.Succeeded() {
		entry.WithField("trade_status", p.TradeStatus).Info("notify: trade not successful")
		return accepted(OutcomeIgnored, "trade_not_success")
	}
	if order.Status != model.OrderPending {
		entry.WithField("status", order.Status).Warn("notify: order not pending")
		return accepted(OutcomeIgnored, "not_pending")
	}

	ok, err := e.store.Orders.TransitionToCompleted(ctx, order.OrderNo, p.TradeNo, e.now().UTC())
	if err != nil {
		entry.WithError(err).Error("notify: complete order")
		return retry("transition_failed")
	}
	if !ok {
		status, err := e.store.Orders.FetchStatus(ctx, order.OrderNo)
		if err == nil && status.Settled() {
			return accepted(OutcomeReplay, "concurrent_delivery")
		}
		entry.WithField("status", status).WithError(err).Error("notify: lost transition race")
		return retry("transition_lost")
	}

	sold, err := e.store.Cards.MarkSold(ctx, order.ID)
	if err != nil {
		entry.WithError(err).Error("notify: mark cards sold, order stays completed")
		status, rerr := e.store.Orders.FetchStatus(ctx, order.OrderNo)
		if rerr != nil || status != model.OrderCompleted {
			return retry("reconcile_failed")
		}
		// 卡密在下次读取订单卡密时补偿为 sold
		return accepted(OutcomeCompleted, "cards_pending_reconcile")
	}

	entry.WithField("sold", sold).Info("notify: order completed")
	order.Status = model.OrderCompleted
	e.publish(ctx, queue.KindOrderCompleted, order)
	return accepted(OutcomeCompleted, "")
}
