package shopify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// 默认 API 版本，与原始接入保持一致
const DefaultAPIVersion = "2024-01"

// ==================== 错误分类 ====================

// APIError 远端返回的非 2xx 响应
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shopify api error [%d]: %s", e.StatusCode, e.Body)
}

// IsRateLimit 是否为限流（可重试，带服务端等待提示）
func (e *APIError) IsRateLimit() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsPermanent 判定错误是否为永久性（授权失效等 4xx，限流除外）
// 永久性错误不应再重试，由调用方将店铺置为 failed
func IsPermanent(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 &&
		apiErr.StatusCode != http.StatusTooManyRequests
}

// ==================== Client ====================

// Client 单店铺的远程目录客户端
// 凭证在构造时绑定，会话值显式传递，不依赖全局状态
type Client struct {
	shopDomain string
	baseURL    string
	http       *resty.Client
}

type Option func(*Client)

// WithBaseURL 覆盖基础地址（测试用）
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithAPIVersion 指定 API 版本
func WithAPIVersion(v string) Option {
	return func(c *Client) {
		c.baseURL = fmt.Sprintf("https://%s/admin/api/%s", c.shopDomain, v)
	}
}

// WithRetryCount 覆盖重试次数（测试可设 0 加速）
func WithRetryCount(n int) Option {
	return func(c *Client) {
		c.http.SetRetryCount(n)
	}
}

// New 创建绑定某店铺凭证的客户端
// 限流(429)与 5xx 自动重试，429 按服务端 Retry-After 提示等待
func New(shopDomain, accessToken string, opts ...Option) *Client {
	httpClient := resty.New().
		SetTimeout(30*time.Second).
		SetHeader("X-Shopify-Access-Token", accessToken).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(30 * time.Second)

	httpClient.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
	})

	// 429 时优先使用服务端给出的等待时间
	httpClient.SetRetryAfter(func(cl *resty.Client, r *resty.Response) (time.Duration, error) {
		if r == nil {
			return 0, nil
		}
		if ra := r.Header().Get("Retry-After"); ra != "" {
			if secs, err := strconv.ParseFloat(ra, 64); err == nil && secs > 0 {
				return time.Duration(secs * float64(time.Second)), nil
			}
		}
		return 0, nil
	})

	c := &Client{
		shopDomain: shopDomain,
		baseURL:    fmt.Sprintf("https://%s/admin/api/%s", shopDomain, DefaultAPIVersion),
		http:       httpClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ShopDomain 客户端绑定的店铺域名
func (c *Client) ShopDomain() string {
	return c.shopDomain
}

// Close 释放会话占用的连接资源，任何退出路径都应调用
func (c *Client) Close() {
	c.http.GetClient().CloseIdleConnections()
}

// ==================== 请求辅助 ====================

func (c *Client) get(ctx context.Context, path string, params map[string]string, result interface{}) (*resty.Response, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(result).
		Get(c.baseURL + path)
	return c.check(resp, err)
}

func (c *Client) check(resp *resty.Response, err error) (*resty.Response, error) {
	if err != nil {
		return nil, fmt.Errorf("shopify request failed: %w", err)
	}
	if resp.IsError() {
		return nil, &APIError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return resp, nil
}

// ==================== 会话探活 ====================

// GetShop 拉取店铺信息，用作会话建立时的凭证校验
func (c *Client) GetShop(ctx context.Context) (*Shop, error) {
	var res shopResp
	if _, err := c.get(ctx, "/shop.json", nil, &res); err != nil {
		return nil, err
	}
	return &res.Shop, nil
}

// ==================== 商品 ====================

// GetProducts 游标分页拉取商品
// pageInfo 为空表示第一页；返回的 nextPageInfo 为空表示已到末页
func (c *Client) GetProducts(ctx context.Context, limit int, pageInfo string) ([]Product, string, error) {
	params := map[string]string{
		"limit": strconv.Itoa(limit),
	}
	if pageInfo != "" {
		// Shopify 规定：带 page_info 的请求不允许再附加过滤参数
		params["page_info"] = pageInfo
	}

	var res productsResp
	resp, err := c.get(ctx, "/products.json", params, &res)
	if err != nil {
		return nil, "", err
	}
	return res.Products, nextPageInfo(resp.Header().Get("Link")), nil
}

// GetProduct 拉取单个商品
func (c *Client) GetProduct(ctx context.Context, productID int64) (*Product, error) {
	var res productResp
	if _, err := c.get(ctx, fmt.Sprintf("/products/%d.json", productID), nil, &res); err != nil {
		return nil, err
	}
	return &res.Product, nil
}

// UpdateProduct 局部更新商品（隐藏/恢复可见走这里）
func (c *Client) UpdateProduct(ctx context.Context, productID int64, patch map[string]interface{}) error {
	body := map[string]interface{}{"product": patch}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Put(c.baseURL + fmt.Sprintf("/products/%d.json", productID))
	_, err = c.check(resp, err)
	return err
}

// ==================== 库存 ====================

// GetInventoryLevels 按库存项 ID 批量查询各地点库存
func (c *Client) GetInventoryLevels(ctx context.Context, inventoryItemIDs []int64) ([]InventoryLevel, error) {
	ids := make([]string, 0, len(inventoryItemIDs))
	for _, id := range inventoryItemIDs {
		ids = append(ids, strconv.FormatInt(id, 10))
	}

	var res levelsResp
	params := map[string]string{
		"inventory_item_ids": strings.Join(ids, ","),
	}
	if _, err := c.get(ctx, "/inventory_levels.json", params, &res); err != nil {
		return nil, err
	}
	return res.InventoryLevels, nil
}

// ==================== Webhook ====================

// CreateWebhook 注册 webhook 订阅
func (c *Client) CreateWebhook(ctx context.Context, topic, address string) (*WebhookSubscription, error) {
	body := map[string]interface{}{
		"webhook": map[string]interface{}{
			"topic":   topic,
			"address": address,
			"format":  "json",
		},
	}

	var res webhookResp
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&res).
		Post(c.baseURL + "/webhooks.json")
	if _, err = c.check(resp, err); err != nil {
		return nil, err
	}
	return &res.Webhook, nil
}

// GetWebhooks 列出已注册的订阅
func (c *Client) GetWebhooks(ctx context.Context) ([]WebhookSubscription, error) {
	var res webhooksResp
	if _, err := c.get(ctx, "/webhooks.json", nil, &res); err != nil {
		return nil, err
	}
	return res.Webhooks, nil
}

// ==================== 分页游标 ====================

var linkNextRe = regexp.MustCompile(`<[^>]*[?&]page_info=([^&>]+)[^>]*>;\s*rel="next"`)

// nextPageInfo 从 Link 响应头提取下一页游标，无下一页返回空串
func nextPageInfo(linkHeader string) string {
	if linkHeader == "" {
		return ""
	}
	for _, part := range strings.Split(linkHeader, ",") {
		if m := linkNextRe.FindStringSubmatch(strings.TrimSpace(part)); m != nil {
			return m[1]
		}
	}
	return ""
}
