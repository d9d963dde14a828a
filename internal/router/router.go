package router

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"card_shop/internal/config"
	"card_shop/internal/fulfillment"
	"card_shop/internal/middleware"
	"card_shop/internal/model"
	"card_shop/internal/payment"
	"card_shop/internal/store"
	redispkg "card_shop/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Deps 路由依赖。Redis 与 StockCache 可为空：限流放行、库存直接查库。
type Deps struct {
	Engine *fulfillment.Engine
	Store  *store.Store
	Redis  *rd.Client
	Stock  *redispkg.StockCache
	Config config.AppConfig
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps) {
	cfg := d.Config
	auth := middleware.OptionalUser(cfg.JWTSecret)

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})

	// 支付网关异步通知，默认渠道 ldc
	r.GET("/api/payment/notify", paymentNotify(d.Engine, string(model.PaymentLDC)))
	r.GET("/api/payment/notify/:channel", paymentNotify(d.Engine, ""))

	// Orders
	r.POST("/api/orders", auth, middleware.RedisRateLimit(d.Redis, "orders", cfg.OrderRateLimit, cfg.OrderRateWindow), placeOrder(d.Engine))
	r.GET("/api/orders/:order_no", orderStatus(d.Engine))
	r.POST("/api/orders/:order_no/cards", auth, orderCards(d.Engine))
	r.GET("/api/orders/:order_no/receipt", auth, orderReceipt(d.Engine))

	// Products
	r.GET("/api/products", listProducts(d.Store))
	r.GET("/api/products/:id/stock", getStock(d.Store, d.Stock))

	admin := r.Group("/api/admin", middleware.AdminToken(cfg.AdminToken))
	admin.POST("/products", createProduct(d.Store))
	admin.POST("/products/:id/cards", importCards(d.Store, d.Stock))
}

// paymentNotify 网关回调入口，响应体必须是纯文本 success / fail。
func paymentNotify(engine *fulfillment.Engine, channel string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ch := channel
		if ch == "" {
			ch = strings.ToLower(c.Param("channel"))
		}
		res := engine.HandleCallback(c.Request.Context(), ch, payment.ParseNotify(c.Request.URL.Query()))
		c.Data(res.Status, "text/plain; charset=utf-8", []byte(res.Body))
	}
}

// placeOrder 下单：预占卡密并返回网关支付参数。
func placeOrder(engine *fulfillment.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ProductID     uint   `json:"product_id" binding:"required,min=1"`
			Quantity      int    `json:"quantity"`
			Email         string `json:"email" binding:"required"`
			QueryPassword string `json:"query_password" binding:"required"`
			PaymentMethod string `json:"payment_method"`
			Remark        string `json:"remark"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error(), "reason": "invalid_input"})
			return
		}

		in := fulfillment.PlaceOrderInput{
			ProductID:     req.ProductID,
			Quantity:      req.Quantity,
			Email:         req.Email,
			QueryPassword: req.QueryPassword,
			PaymentMethod: req.PaymentMethod,
			Remark:        req.Remark,
		}
		if claims, ok := middleware.CurrentUser(c); ok {
			in.UserID = claims.UserID
			in.Username = claims.Username
		}

		res, err := engine.PlaceOrder(c.Request.Context(), in)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"data": gin.H{
				"order_no":     res.OrderNo,
				"total_amount": res.TotalAmount.StringFixed(2),
				"expired_at":   res.ExpiredAt,
				"payment":      res.Payment,
			},
		})
	}
}

// orderStatus 公开的订单状态查询。
func orderStatus(engine *fulfillment.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := engine.OrderStatus(c.Request.Context(), c.Param("order_no"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": view})
	}
}

// orderCards 订单所有者（登录用户或持查询密码）读取卡密。
func orderCards(engine *fulfillment.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			QueryPassword string `json:"query_password"`
		}
		// 登录用户可以不带 body
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error(), "reason": "invalid_input"})
			return
		}

		id := fulfillment.Identity{QueryPassword: req.QueryPassword}
		if claims, ok := middleware.CurrentUser(c); ok {
			id.UserID = claims.UserID
		}
		out, err := engine.OrderCards(c.Request.Context(), c.Param("order_no"), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": out})
	}
}

// orderReceipt 支付凭证，仅登录用户可读自己的订单。
func orderReceipt(engine *fulfillment.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var userID string
		if claims, ok := middleware.CurrentUser(c); ok {
			userID = claims.UserID
		}
		receipt, err := engine.Receipt(c.Request.Context(), c.Param("order_no"), userID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": receipt})
	}
}

// listProducts 查询上架商品列表。
func listProducts(s *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := s.Products.List(c.Request.Context(), true)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

// getStock 查询商品可售库存，优先读缓存，未命中时回源数据库并回填。
func getStock(s *store.Store, cache *redispkg.StockCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := productIDParam(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()

		if cache != nil {
			if n, found, err := cache.Get(ctx, id); err == nil && found {
				c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"product_id": id, "available": n, "cached": true}})
				return
			}
		}

		if _, err := s.Products.Get(ctx, id); err != nil {
			writeError(c, err)
			return
		}
		count, err := s.Cards.Stock(ctx, id)
		if err != nil {
			writeError(c, err)
			return
		}
		if cache != nil {
			if err := cache.Set(ctx, id, count.Available); err != nil {
				log.WithError(err).WithField("product_id", id).Debug("stock cache set failed")
			}
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
			"product_id": id,
			"available":  count.Available,
			"locked":     count.Locked,
			"sold":       count.Sold,
			"cached":     false,
		}})
	}
}

// createProduct 管理端创建商品。
func createProduct(s *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name        string `json:"name" binding:"required"`
			Price       string `json:"price" binding:"required"`
			MinQuantity int    `json:"min_quantity"`
			MaxQuantity int    `json:"max_quantity"`
			IsActive    *bool  `json:"is_active"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error(), "reason": "invalid_input"})
			return
		}
		price, err := decimal.NewFromString(strings.TrimSpace(req.Price))
		if err != nil || !price.IsPositive() || price.Exponent() < -2 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "price 必须为最多两位小数的正数", "reason": "invalid_input"})
			return
		}
		if req.MinQuantity <= 0 {
			req.MinQuantity = 1
		}
		if req.MaxQuantity <= 0 {
			req.MaxQuantity = 10
		}
		if req.MaxQuantity < req.MinQuantity {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "max_quantity 不能小于 min_quantity", "reason": "invalid_input"})
			return
		}

		p := &model.Product{
			Name:        strings.TrimSpace(req.Name),
			Price:       price,
			MinQuantity: req.MinQuantity,
			MaxQuantity: req.MaxQuantity,
			IsActive:    req.IsActive == nil || *req.IsActive,
		}
		if err := s.Products.Create(c.Request.Context(), p); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": p})
	}
}

// importCards 管理端批量导入卡密：JSON {"cards": [...]} 或纯文本每行一张。
func importCards(s *store.Store, cache *redispkg.StockCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := productIDParam(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()

		var contents []string
		if strings.HasPrefix(c.ContentType(), "application/json") {
			var req struct {
				Cards []string `json:"cards" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error(), "reason": "invalid_input"})
				return
			}
			contents = req.Cards
		} else {
			body, err := io.ReadAll(io.LimitReader(c.Request.Body, 8<<20))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error(), "reason": "invalid_input"})
				return
			}
			contents = strings.Split(strings.ReplaceAll(string(body), "\r\n", "\n"), "\n")
		}

		if _, err := s.Products.Get(ctx, id); err != nil {
			writeError(c, err)
			return
		}
		n, err := s.Cards.Provision(ctx, id, contents)
		if err != nil {
			writeError(c, err)
			return
		}
		if cache != nil {
			if err := cache.Invalidate(ctx, id); err != nil {
				log.WithError(err).WithField("product_id", id).Debug("stock cache invalidate failed")
			}
		}
		log.WithFields(log.Fields{"product_id": id, "imported": n}).Info("cards imported")
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"imported": n}})
	}
}

func productIDParam(c *gin.Context) (uint, bool) {
	// 32 bit 十进制
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "商品ID无效", "reason": "invalid_input"})
		return 0, false
	}
	return uint(id), true
}

// writeError 将领域错误映射为 HTTP 状态与 reason。
func writeError(c *gin.Context, err error) {
	var ve *fulfillment.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": ve.Error(), "reason": ve.Reason, "field": ve.Field})
	case errors.Is(err, fulfillment.ErrQuantityOutOfRange):
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error(), "reason": "quantity_out_of_range"})
	case errors.Is(err, fulfillment.ErrProductUnavailable):
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "商品已下架", "reason": "product_unavailable"})
	case errors.Is(err, store.ErrInsufficientStock):
		c.JSON(http.StatusConflict, gin.H{"code": 409, "msg": "库存不足", "reason": "insufficient_stock"})
	case errors.Is(err, fulfillment.ErrStateConflict):
		c.JSON(http.StatusConflict, gin.H{"code": 409, "msg": err.Error(), "reason": "state_conflict"})
	case errors.Is(err, fulfillment.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "无权访问该订单", "reason": "unauthorized"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "不存在", "reason": "not_found"})
	default:
		log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": "internal error"})
	}
}
