package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/skalibog/sigtrade/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *BinanceClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewBinanceClient(config.BinanceConfig{APIKey: "key", APISecret: "secret", RecvWindowMs: 5000, RequestsPerSecond: 100}, nil)
	if err != nil {
		t.Fatalf("NewBinanceClient error: %v", err)
	}
	c.baseURL = srv.URL
	c.spot.BaseURL = srv.URL
	return c
}

func TestPlaceOCOIsolatedAutoRepay(t *testing.T) {
	var form url.Values
	var query url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sapi/v1/margin/order/oco" {
			t.Errorf("request=%s %s, expected POST /sapi/v1/margin/order/oco", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-MBX-APIKEY") != "key" {
			t.Errorf("missing api key header")
		}
		_ = r.ParseForm()
		form = r.PostForm
		query = r.URL.Query()
		w.Write([]byte(`{"orderListId":1,"orderReports":[{"symbol":"ABCUSDT","orderId":42,"clientOrderId":"c1","status":"NEW"},{"symbol":"ABCUSDT","orderId":43}]}`))
	})

	order, err := c.PlaceOCO(context.Background(), OCORequest{Symbol: "ABCUSDT", Quantity: 1.5, Price: 20, StopPrice: 9.5, StopLimitPrice: 9.5, ClientOrderID: "list-1"})
	if err != nil {
		t.Fatalf("PlaceOCO error: %v", err)
	}
	if order.OrderID != 42 || order.Side != SideSell || order.Status != StatusNew {
		t.Fatalf("order=%+v, expected id 42 SELL NEW", order)
	}

	for key, expect := range map[string]string{
		"isIsolated":           "TRUE",
		"side":                 "SELL",
		"sideEffectType":       "AUTO_REPAY",
		"stopLimitTimeInForce": "GTC",
		"listClientOrderId":    "list-1",
		"quantity":             "1.5",
		"stopPrice":            "9.5",
	} {
		if got := form.Get(key); got != expect {
			t.Fatalf("%s=%q, expected %q", key, got, expect)
		}
	}
	if query.Get("signature") == "" || query.Get("timestamp") == "" || query.Get("recvWindow") != "5000" {
		t.Fatalf("request not signed: %v", query)
	}
}

func TestEnablePairSignedRequest(t *testing.T) {
	var form url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sapi/v1/margin/isolated/account" {
			t.Errorf("request=%s %s, expected POST /sapi/v1/margin/isolated/account", r.Method, r.URL.Path)
		}
		_ = r.ParseForm()
		form = r.PostForm
		w.Write([]byte(`{"success":true,"symbol":"ABCUSDT"}`))
	})

	if err := c.EnablePair(context.Background(), "ABCUSDT"); err != nil {
		t.Fatalf("EnablePair error: %v", err)
	}
	if form.Get("symbol") != "ABCUSDT" || form.Get("recvWindow") != "5000" {
		t.Fatalf("form=%v, expected symbol and recvWindow", form)
	}

	// подпись считается по всем параметрам кроме самой подписи
	signature := form.Get("signature")
	form.Del("signature")
	if expect := sign(form.Encode(), "secret"); signature == "" || signature != expect {
		t.Fatalf("signature=%s, expected %s", signature, expect)
	}
}

func TestPairLimitAndErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/sapi/v1/margin/isolated/accountLimit" && r.Method == http.MethodGet:
			if r.URL.Query().Get("signature") == "" {
				t.Errorf("GET request not signed")
			}
			w.Write([]byte(`{"enabledAccount":3,"maxAccount":10}`))
		case r.URL.Path == "/sapi/v1/margin/isolated/account" && r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":-3052,"msg":"pair has open position"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	enabled, limit, err := c.PairLimit(context.Background())
	if err != nil {
		t.Fatalf("PairLimit error: %v", err)
	}
	if enabled != 3 || limit != 10 {
		t.Fatalf("PairLimit=%d/%d, expected 3/10", enabled, limit)
	}

	err = c.DisablePair(context.Background(), "ABCUSDT")
	if err == nil || !strings.Contains(err.Error(), "-3052") {
		t.Fatalf("DisablePair error=%v, expected exchange error body", err)
	}
}

func TestTransferDirection(t *testing.T) {
	var got []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sapi/v1/margin/isolated/transfer" || r.URL.Query().Get("signature") == "" {
			t.Errorf("request=%s, expected signed isolated transfer", r.URL)
		}
		_ = r.ParseForm()
		got = append(got, r.PostForm.Get("transFrom")+">"+r.PostForm.Get("transTo")+":"+r.PostForm.Get("asset"))
		w.Write([]byte(`{"tranId":1}`))
	})

	if err := c.TransferToMargin(context.Background(), "ABCUSDT", "USDT", 100); err != nil {
		t.Fatalf("TransferToMargin error: %v", err)
	}
	if err := c.TransferToSpot(context.Background(), "ABCUSDT", "ABC", 2); err != nil {
		t.Fatalf("TransferToSpot error: %v", err)
	}
	expect := []string{"SPOT>ISOLATED_MARGIN:USDT", "ISOLATED_MARGIN>SPOT:ABC"}
	if len(got) != 2 || got[0] != expect[0] || got[1] != expect[1] {
		t.Fatalf("transfers=%v, expected %v", got, expect)
	}
}
