package fulfillment

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"card_shop/internal/model"
	"card_shop/internal/payment"
	"card_shop/internal/queue"
	"card_shop/internal/testutil"

	"gorm.io/gorm"
)

func TestCallbackCompletesOrderAndSellsCard(t *testing.T) {
	f := newFixture(t, "50.00", 2)
	f.insertOrder(t, "LD1001", 1, f.now.Add(5*time.Minute))

	res := f.engine.HandleCallback(context.Background(), "ldc", signedNotify("LD1001", "50.00"))
	if res.Status != http.StatusOK || res.Body != "success" || res.Outcome != OutcomeCompleted {
		t.Fatalf("expected completed success, got %+v", res)
	}

	order := testutil.OrderByNo(t, f.conn, "LD1001")
	if order.Status != model.OrderCompleted || order.TradeNo == nil || *order.TradeNo != "T-LD1001" || order.PaidAt == nil {
		t.Fatalf("unexpected order after callback: %+v", order)
	}
	cards := testutil.CardsOf(t, f.conn, f.product.ID)
	if cards[0].Status != model.CardSold || cards[0].SoldAt == nil {
		t.Fatalf("expected first card sold, got %+v", cards[0])
	}
	if cards[1].Status != model.CardAvailable {
		t.Fatalf("expected second card untouched, got %+v", cards[1])
	}
	if kinds := f.events.Kinds(); len(kinds) != 1 || kinds[0] != queue.KindOrderCompleted {
		t.Fatalf("expected order.completed event, got %v", kinds)
	}
}

func TestCallbackReplayChangesNothing(t *testing.T) {
	f := newFixture(t, "50.00", 1)
	f.insertOrder(t, "LD1001", 1, f.now.Add(5*time.Minute))
	n := signedNotify("LD1001", "50.00")

	if res := f.engine.HandleCallback(context.Background(), "ldc", n); res.Outcome != OutcomeCompleted {
		t.Fatalf("expected first delivery to complete, got %+v", res)
	}
	before := testutil.CardsOf(t, f.conn, f.product.ID)[0]
	orderBefore := testutil.OrderByNo(t, f.conn, "LD1001")

	f.now = f.now.Add(time.Minute)
	res := f.engine.HandleCallback(context.Background(), "ldc", n)
	if res.Status != http.StatusOK || res.Body != "success" || res.Outcome != OutcomeReplay {
		t.Fatalf("expected replay success, got %+v", res)
	}

	after := testutil.CardsOf(t, f.conn, f.product.ID)[0]
	if !before.SoldAt.Equal(*after.SoldAt) {
		t.Fatalf("sold_at changed on replay: %s -> %s", before.SoldAt, after.SoldAt)
	}
	orderAfter := testutil.OrderByNo(t, f.conn, "LD1001")
	if !orderBefore.PaidAt.Equal(*orderAfter.PaidAt) {
		t.Fatalf("paid_at changed on replay")
	}
	if kinds := f.events.Kinds(); len(kinds) != 1 {
		t.Fatalf("expected a single completed event, got %v", kinds)
	}
}

func TestCallbackAmountMismatch(t *testing.T) {
	f := newFixture(t, "50.00", 1)
	f.insertOrder(t, "LD1001", 1, f.now.Add(5*time.Minute))

	res := f.engine.HandleCallback(context.Background(), "ldc", signedNotify("LD1001", "49.99"))
	if res.Status != http.StatusBadRequest || res.Body != "fail" || res.Reason != "amount_mismatch" {
		t.Fatalf("expected amount mismatch rejection, got %+v", res)
	}
	if got := testutil.OrderByNo(t, f.conn, "LD1001"); got.Status != model.OrderPending {
		t.Fatalf("expected order to stay pending, got %s", got.Status)
	}
	if c := testutil.CardsOf(t, f.conn, f.product.ID)[0]; c.Status != model.CardLocked {
		t.Fatalf("expected card to stay locked, got %s", c.Status)
	}
}

func TestCallbackAcceptsEquivalentAmountFormats(t *testing.T) {
	f := newFixture(t, "1234.50", 1)
	f.insertOrder(t, "LD1005", 1, f.now.Add(5*time.Minute))

	res := f.engine.HandleCallback(context.Background(), "ldc", signedNotify("LD1005", "1,234.5"))
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("expected 1,234.5 to match 1234.50, got %+v", res)
	}
}

func TestCallbackRoundsWireAmountToCents(t *testing.T) {
	for _, wire := range []string{"50.000", "50.004", " 50.00"} {
		t.Run(wire, func(t *testing.T) {
			f := newFixture(t, "50.00", 1)
			f.insertOrder(t, "LD1006", 1, f.now.Add(5*time.Minute))

			res := f.engine.HandleCallback(context.Background(), "ldc", signedNotify("LD1006", wire))
			if res.Status != http.StatusOK || res.Body != "success" || res.Outcome != OutcomeCompleted {
				t.Fatalf("expected %q to settle a 50.00 order, got %+v", wire, res)
			}
			if got := testutil.OrderByNo(t, f.conn, "LD1006"); got.Status != model.OrderCompleted {
				t.Fatalf("expected completed, got %s", got.Status)
			}
		})
	}

	f := newFixture(t, "50.00", 1)
	f.insertOrder(t, "LD1007", 1, f.now.Add(5*time.Minute))
	res := f.engine.HandleCallback(context.Background(), "ldc", signedNotify("LD1007", "50.006"))
	if res.Status != http.StatusBadRequest || res.Reason != "amount_mismatch" {
		t.Fatalf("expected 50.006 to round to 50.01 and mismatch, got %+v", res)
	}
}

func TestCallbackRejections(t *testing.T) {
	f := newFixture(t, "50.00", 1)
	f.insertOrder(t, "LD1001", 1, f.now.Add(5*time.Minute))

	cases := []struct {
		name    string
		channel string
		params  func() payment.NotifyParams
		reason  string
	}{
		{
			name:    "missing trade_no",
			channel: "ldc",
			params: func() payment.NotifyParams {
				p := signedNotify("LD1001", "50.00")
				p.TradeNo = ""
				return p
			},
			reason: "missing_fields",
		},
		{
			name:    "unsupported sign type",
			channel: "ldc",
			params: func() payment.NotifyParams {
				p := signedNotify("LD1001", "50.00")
				p.SignType = "RSA"
				return p
			},
			reason: "unsupported_sign_type",
		},
		{
			name:    "bad signature",
			channel: "ldc",
			params: func() payment.NotifyParams {
				p := signedNotify("LD1001", "50.00")
				p.Sign = "00000000000000000000000000000000"
				return p
			},
			reason: "bad_signature",
		},
		{
			name:    "other merchant",
			channel: "ldc",
			params: func() payment.NotifyParams {
				p := signedNotify("LD1001", "50.00")
				p.PID = "2002"
				p.Sign = payment.Sign(p.Map(), testSecret)
				return p
			},
			reason: "merchant_mismatch",
		},
		{
			name:    "unknown order",
			channel: "ldc",
			params:  func() payment.NotifyParams { return signedNotify("LD404", "50.00") },
			reason:  "order_not_found",
		},
		{
			name:    "wrong channel",
			channel: "alipay",
			params:  func() payment.NotifyParams { return signedNotify("LD1001", "50.00") },
			reason:  "method_mismatch",
		},
		{
			name:    "malformed amount",
			channel: "ldc",
			params: func() payment.NotifyParams {
				p := signedNotify("LD1001", "fifty")
				return p
			},
			reason: "amount_mismatch",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := f.engine.HandleCallback(context.Background(), tc.channel, tc.params())
			if res.Status != http.StatusBadRequest || res.Body != "fail" || res.Reason != tc.reason {
				t.Fatalf("expected 400 %s, got %+v", tc.reason, res)
			}
		})
	}

	if got := testutil.OrderByNo(t, f.conn, "LD1001"); got.Status != model.OrderPending {
		t.Fatalf("expected order to stay pending, got %s", got.Status)
	}
}

func TestCallbackIgnoresUnsuccessfulTrade(t *testing.T) {
	f := newFixture(t, "50.00", 1)
	f.insertOrder(t, "LD1001", 1, f.now.Add(5*time.Minute))

	p := signedNotify("LD1001", "50.00")
	p.TradeStatus = "WAIT_BUYER_PAY"
	p.Sign = payment.Sign(p.Map(), testSecret)

	res := f.engine.HandleCallback(context.Background(), "ldc", p)
	if res.Status != http.StatusOK || res.Outcome != OutcomeIgnored {
		t.Fatalf("expected ignored success, got %+v", res)
	}
	if got := testutil.OrderByNo(t, f.conn, "LD1001"); got.Status != model.OrderPending {
		t.Fatalf("expected order to stay pending, got %s", got.Status)
	}
}

func TestCallbackDoesNotResurrectExpiredOrder(t *testing.T) {
	f := newFixture(t, "50.00", 1)
	o := f.insertOrder(t, "LD1001", 1, f.now.Add(-time.Minute))
	if ok, err := f.engine.ExpireOrder(context.Background(), o.OrderNo, f.now); err != nil || !ok {
		t.Fatalf("expire: %v (%v)", ok, err)
	}

	res := f.engine.HandleCallback(context.Background(), "ldc", signedNotify("LD1001", "50.00"))
	if res.Status != http.StatusOK || res.Outcome != OutcomeIgnored {
		t.Fatalf("expected ignored success, got %+v", res)
	}
	if got := testutil.OrderByNo(t, f.conn, "LD1001"); got.Status != model.OrderExpired {
		t.Fatalf("expected order to stay expired, got %s", got.Status)
	}
	if c := testutil.CardsOf(t, f.conn, f.product.ID)[0]; c.Status != model.CardAvailable {
		t.Fatalf("expected card to stay available, got %s", c.Status)
	}
}

func TestCallbackTreatsManuallyPaidOrderAsSettled(t *testing.T) {
	f := newFixture(t, "50.00", 1)
	f.insertOrder(t, "LD1001", 1, f.now.Add(5*time.Minute))
	if err := f.conn.Model(&model.Order{}).Where("order_no = ?", "LD1001").Update("status", model.OrderPaid).Error; err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	res := f.engine.HandleCallback(context.Background(), "ldc", signedNotify("LD1001", "50.00"))
	if res.Status != http.StatusOK || res.Outcome != OutcomeReplay {
		t.Fatalf("expected replay success for paid order, got %+v", res)
	}
	if got := testutil.OrderByNo(t, f.conn, "LD1001"); got.Status != model.OrderPaid {
		t.Fatalf("expected paid to be left alone, got %s", got.Status)
	}
}

func TestConcurrentCallbacksSellOnce(t *testing.T) {
	f := newFixture(t, "50.00", 1)
	f.insertOrder(t, "LD1001", 1, f.now.Add(5*time.Minute))
	n := signedNotify("LD1001", "50.00")

	const deliveries = 8
	results := make([]CallbackResult, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.engine.HandleCallback(context.Background(), "ldc", n)
		}(i)
	}
	wg.Wait()

	completed := 0
	for _, r := range results {
		if r.Status != http.StatusOK || r.Body != "success" {
			t.Fatalf("expected every delivery to succeed, got %+v", r)
		}
		if r.Outcome == OutcomeCompleted {
			completed++
		}
	}
	if completed != 1 {
		t.Fatalf("expected exactly one delivery to complete the order, got %d", completed)
	}
	if kinds := f.events.Kinds(); len(kinds) != 1 {
		t.Fatalf("expected one completed event, got %v", kinds)
	}
}

func TestCallbackRacingReaperKeepsStateConsistent(t *testing.T) {
	for i := 0; i < 10; i++ {
		f := newFixture(t, "50.00", 1)
		f.insertOrder(t, "LD1001", 1, f.now.Add(-time.Second))

		var (
			wg      sync.WaitGroup
			res     CallbackResult
			expired bool
			expErr  error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			res = f.engine.HandleCallback(context.Background(), "ldc", signedNotify("LD1001", "50.00"))
		}()
		go func() {
			defer wg.Done()
			expired, expErr = f.engine.ExpireOrder(context.Background(), "LD1001", f.now)
		}()
		wg.Wait()
		if expErr != nil {
			t.Fatalf("expire: %v", expErr)
		}

		order := testutil.OrderByNo(t, f.conn, "LD1001")
		card := testutil.CardsOf(t, f.conn, f.product.ID)[0]
		switch order.Status {
		case model.OrderCompleted:
			if expired || res.Outcome != OutcomeCompleted || card.Status != model.CardSold {
				t.Fatalf("inconsistent completed state: expired=%v res=%+v card=%s", expired, res, card.Status)
			}
		case model.OrderExpired:
			if !expired || res.Outcome == OutcomeCompleted || card.Status != model.CardAvailable || card.OrderID != nil {
				t.Fatalf("inconsistent expired state: expired=%v res=%+v card=%+v", expired, res, card)
			}
		default:
			t.Fatalf("unexpected final status %s", order.Status)
		}

		// 之后的重复投递与回收都不能让 completed 回退
		f.engine.HandleCallback(context.Background(), "ldc", signedNotify("LD1001", "50.00"))
		if _, err := f.engine.ExpireOrder(context.Background(), "LD1001", f.now.Add(time.Hour)); err != nil {
			t.Fatalf("second expire: %v", err)
		}
		if again := testutil.OrderByNo(t, f.conn, "LD1001"); again.Status != order.Status {
			t.Fatalf("status regressed from %s to %s", order.Status, again.Status)
		}
	}
}

func TestCallbackVerifiesPaddedParamsAsSigned(t *testing.T) {
	f := newFixture(t, "50.00", 1)
	f.insertOrder(t, "LD1008", 1, f.now.Add(5*time.Minute))

	p := signedNotify("LD1008", "50.00")
	p.Name = "Steam 50 "
	p.OutTradeNo = "LD1008 "
	p.PID = " " + testPID
	p.Sign = payment.Sign(p.Map(), testSecret)

	res := f.engine.HandleCallback(context.Background(), "ldc", p)
	if res.Status != http.StatusOK || res.Outcome != OutcomeCompleted {
		t.Fatalf("expected padded params to complete the order, got %+v", res)
	}
}

// onceBeforeWrite 在下一次写 table 的语句开启事务前执行 fn，只触发一次。
func onceBeforeWrite(t *testing.T, conn *gorm.DB, table string, fn func(db *gorm.DB)) {
	t.Helper()
	var fired atomic.Bool
	err := conn.Callback().Update().Before("gorm:begin_transaction").Register("test:before_"+table, func(db *gorm.DB) {
		if db.Statement.Table != table || !fired.CompareAndSwap(false, true) {
			return
		}
		fn(db)
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}
}

func TestCallbackLosingTransitionToExpiryAsksForRetry(t *testing.T) {
	f := newFixture(t, "50.00", 1)
	f.insertOrder(t, "LD1009", 1, f.now.Add(5*time.Minute))

	// 读取订单之后、CAS 之前，订单被改为 expired
	onceBeforeWrite(t, f.conn, "orders", func(*gorm.DB) {
		if err := f.conn.Exec("UPDATE orders SET status = ? WHERE order_no = ?", model.OrderExpired, "LD1009").Error; err != nil {
			t.Errorf("expire behind callback: %v", err)
		}
	})

	res := f.engine.HandleCallback(context.Background(), "ldc", signedNotify("LD1009", "50.00"))
	if res.Status != http.StatusInternalServerError || res.Body != "fail" || res.Reason != "transition_lost" {
		t.Fatalf("expected 500 transition_lost, got %+v", res)
	}
	if got := testutil.OrderByNo(t, f.conn, "LD1009"); got.Status != model.OrderExpired || got.TradeNo != nil {
		t.Fatalf("expected order to stay expired without trade_no, got %+v", got)
	}
	if kinds := f.events.Kinds(); len(kinds) != 0 {
		t.Fatalf("expected no events, got %v", kinds)
	}
}

func TestCallbackMarkSoldFailureKeepsOrderCompleted(t *testing.T) {
	f := newFixture(t, "50.00", 2)
	placed := f.place(t, 1, "", "")

	onceBeforeWrite(t, f.conn, "cards", func(db *gorm.DB) {
		_ = db.AddError(errors.New("disk full"))
	})

	res := f.engine.HandleCallback(context.Background(), "ldc", signedNotify(placed.OrderNo, "50.00"))
	if res.Status != http.StatusOK || res.Body != "success" || res.Reason != "cards_pending_reconcile" {
		t.Fatalf("expected success with pending reconcile, got %+v", res)
	}
	order := testutil.OrderByNo(t, f.conn, placed.OrderNo)
	if order.Status != model.OrderCompleted {
		t.Fatalf("expected order to stay completed, got %s", order.Status)
	}
	if c := testutil.CardsOf(t, f.conn, f.product.ID)[0]; c.Status != model.CardLocked {
		t.Fatalf("expected card still locked before reconcile, got %s", c.Status)
	}

	// 重放不回退状态
	replay := f.engine.HandleCallback(context.Background(), "ldc", signedNotify(placed.OrderNo, "50.00"))
	if replay.Outcome != OutcomeReplay {
		t.Fatalf("expected replay, got %+v", replay)
	}

	out, err := f.engine.OrderCards(context.Background(), placed.OrderNo, Identity{QueryPassword: "pa55word"})
	if err != nil {
		t.Fatalf("order cards: %v", err)
	}
	if len(out.Cards) != 1 || out.Cards[0] != testutil.CardsOf(t, f.conn, f.product.ID)[0].Content {
		t.Fatalf("expected reconciled card, got %v", out.Cards)
	}
	if c := testutil.CardsOf(t, f.conn, f.product.ID)[0]; c.Status != model.CardSold || c.SoldAt == nil {
		t.Fatalf("expected card sold after reconcile, got %+v", c)
	}
}
