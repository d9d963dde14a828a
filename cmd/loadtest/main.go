package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   string
	Err    error
}

type placeOrderReq struct {
	ProductID     uint   `json:"product_id"`
	Quantity      int    `json:"quantity"`
	Email         string `json:"email"`
	QueryPassword string `json:"query_password"`
}

type stockView struct {
	Available int64 `json:"available"`
	Locked    int64 `json:"locked"`
	Sold      int64 `json:"sold"`
	Cached    bool  `json:"cached"`
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	productID := flag.Uint("product", 1, "product id")
	preload := flag.Int("preload", 0, "import N generated cards before the test (0 = skip)")
	adminToken := flag.String("admin-token", "dev-admin-token", "admin token for card import")
	stockCheck := flag.Bool("stock", true, "check stock after test")

	// 超卖测试：N 个买家并发下单，锁定的卡密不应超过库存
	nBuyers := flag.Int("buyers", 200, "concurrent buyers")
	quantity := flag.Int("qty", 1, "quantity per order")
	concurrency := flag.Int("c", 50, "max concurrency")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	if *preload > 0 {
		cards := make([]string, 0, *preload)
		stamp := time.Now().UnixNano()
		for i := 0; i < *preload; i++ {
			cards = append(cards, fmt.Sprintf("LOAD-%d-%06d", stamp, i))
		}
		url := fmt.Sprintf("%s/api/admin/products/%d/cards", *baseURL, *productID)
		if err := doPOST(client, url, map[string]any{"cards": cards}, map[string]string{
			"X-Admin-Token": *adminToken,
		}); err != nil {
			panic(fmt.Sprintf("card import failed: %v", err))
		}
		fmt.Printf("imported %d cards\n", *preload)
	}

	var before *stockView
	if *stockCheck {
		if s, err := getStock(client, *baseURL, *productID); err == nil {
			before = &s
		}
	}

	fmt.Printf("start oversell test: product=%d buyers=%d qty=%d concurrency=%d\n", *productID, *nBuyers, *quantity, *concurrency)
	results := runOrders(client, *baseURL, *productID, *nBuyers, *quantity, *concurrency)
	printSummary("oversell", results)

	if *stockCheck {
		after, err := getStock(client, *baseURL, *productID)
		if err != nil {
			fmt.Println("stock check err:", err)
			return
		}
		fmt.Printf("final stock: available=%d locked=%d sold=%d cached=%v\n", after.Available, after.Locked, after.Sold, after.Cached)
		if before != nil && !before.Cached && !after.Cached {
			created := 0
			for _, r := range results {
				if r.Err == nil && r.Status == http.StatusOK {
					created++
				}
			}
			locked := after.Locked - before.Locked
			if locked != int64(created*(*quantity)) {
				fmt.Printf("MISMATCH: %d orders created but %d cards newly locked\n", created, locked)
			}
		}
	}
}

func runOrders(client *http.Client, baseURL string, productID uint, nBuyers, quantity, concurrency int) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, nBuyers)

	for i := 0; i < nBuyers; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			req := placeOrderReq{
				ProductID:     productID,
				Quantity:      quantity,
				Email:         fmt.Sprintf("buyer%d@example.com", idx+1),
				QueryPassword: "load-test",
			}
			results[idx] = placeOnce(client, baseURL, req)
		}(i)
	}

	wg.Wait()
	return results
}

func placeOnce(client *http.Client, baseURL string, req placeOrderReq) Result {
	b, _ := json.Marshal(req)
	url := fmt.Sprintf("%s/api/orders", baseURL)
	httpReq, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(body)}
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 404, 409, 429, 500} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

// doPOST 发送 POST 请求（支持附加请求头）。
func doPOST(client *http.Client, url string, body any, headers map[string]string) error {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(http.MethodPost, url, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

// getStock 查询商品库存，缓存命中时只有 available 可信。
func getStock(client *http.Client, baseURL string, productID uint) (stockView, error) {
	url := fmt.Sprintf("%s/api/products/%d/stock", baseURL, productID)
	resp, err := client.Get(url)
	if err != nil {
		return stockView{}, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return stockView{}, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}

	var out struct {
		Code int       `json:"code"`
		Data stockView `json:"data"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return stockView{}, err
	}
	return out.Data, nil
}
