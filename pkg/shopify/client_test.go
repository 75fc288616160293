package shopify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestNextPageInfo(t *testing.T) {
	cases := []struct {
		name string
		link string
		want string
	}{
		{"空头", "", ""},
		{"只有上一页", `<https://x.myshopify.com/admin/api/2024-01/products.json?page_info=abc&limit=250>; rel="previous"`, ""},
		{"只有下一页", `<https://x.myshopify.com/admin/api/2024-01/products.json?page_info=abc&limit=250>; rel="next"`, "abc"},
		{
			"前后都有",
			`<https://x.myshopify.com/admin/api/2024-01/products.json?page_info=prev1>; rel="previous", <https://x.myshopify.com/admin/api/2024-01/products.json?page_info=next2>; rel="next"`,
			"next2",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := nextPageInfo(tc.link); got != tc.want {
				t.Errorf("nextPageInfo(%q) = %q, want %q", tc.link, got, tc.want)
			}
		})
	}
}

func TestClient_GetProducts_Pagination(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			if r.URL.Query().Get("page_info") != "" {
				t.Error("第一页不应携带 page_info")
			}
			w.Header().Set("Link", `<`+r.Host+`/admin/api/2024-01/products.json?page_info=cursor2&limit=2>; rel="next"`)
			fmt.Fprint(w, `{"products":[{"id":1},{"id":2}]}`)
			return
		}
		if got := r.URL.Query().Get("page_info"); got != "cursor2" {
			t.Errorf("第二页 page_info = %q", got)
		}
		fmt.Fprint(w, `{"products":[{"id":3}]}`)
	}))
	defer server.Close()

	c := New("demo.myshopify.com", "token", WithBaseURL(server.URL), WithRetryCount(0))
	defer c.Close()

	first, next, err := c.GetProducts(context.Background(), 2, "")
	if err != nil {
		t.Fatalf("GetProducts() error = %v", err)
	}
	if len(first) != 2 || next != "cursor2" {
		t.Fatalf("第一页 = %d 条, next = %q", len(first), next)
	}

	second, next, err := c.GetProducts(context.Background(), 2, next)
	if err != nil {
		t.Fatalf("第二页 GetProducts() error = %v", err)
	}
	if len(second) != 1 || next != "" {
		t.Errorf("第二页 = %d 条, next = %q", len(second), next)
	}
}

func TestClient_RateLimitRetry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0.01")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"shop":{"id":1,"name":"Demo"}}`)
	}))
	defer server.Close()

	c := New("demo.myshopify.com", "token", WithBaseURL(server.URL))
	defer c.Close()

	shop, err := c.GetShop(context.Background())
	if err != nil {
		t.Fatalf("限流后重试应成功: %v", err)
	}
	if shop.Name != "Demo" {
		t.Errorf("店铺名 = %q", shop.Name)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("应请求 2 次，实际 %d", calls)
	}
}

func TestIsPermanent(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"401 永久", &APIError{StatusCode: 401}, true},
		{"404 永久", &APIError{StatusCode: 404}, true},
		{"429 可重试", &APIError{StatusCode: 429}, false},
		{"500 可重试", &APIError{StatusCode: 500}, false},
		{"包装后仍可识别", fmt.Errorf("sync: %w", &APIError{StatusCode: 403}), true},
		{"普通错误", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsPermanent(tc.err); got != tc.want {
				t.Errorf("IsPermanent() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestClient_UpdateProduct_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"errors":"published cannot be blank"}`)
	}))
	defer server.Close()

	c := New("demo.myshopify.com", "token", WithBaseURL(server.URL), WithRetryCount(0))
	defer c.Close()

	err := c.UpdateProduct(context.Background(), 42, map[string]interface{}{"id": 42})
	if err == nil {
		t.Fatal("4xx 应返回错误")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 422 {
		t.Errorf("应为 APIError 422，实际 %v", err)
	}
	if !IsPermanent(err) {
		t.Error("422 应判定为永久失败")
	}
}
