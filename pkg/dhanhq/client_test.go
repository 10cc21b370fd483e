package dhanhq

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// valid base32 TOTP secret for tests
const testTOTPSecret = "JBSWY3DPEHPK3PXP"

func TestGenerateSession_SendsPINAndTOTP(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/app/generate-token" {
			t.Errorf("path = %s, want /app/generate-token", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"accessToken": "tok-123"})
	}))
	defer srv.Close()

	c := New(Config{
		ClientID:   "C1",
		PIN:        "1234",
		TOTPSecret: testTOTPSecret,
		AuthURL:    srv.URL,
	})
	if err := c.GenerateSession(context.Background()); err != nil {
		t.Fatalf("GenerateSession: %v", err)
	}
	if c.AccessToken() != "tok-123" {
		t.Errorf("access token = %q, want tok-123", c.AccessToken())
	}
	if got["dhanClientId"] != "C1" || got["pin"] != "1234" {
		t.Errorf("login body = %v", got)
	}
	if len(got["totp"]) != 6 {
		t.Errorf("totp = %q, want 6 digits", got["totp"])
	}
}

func TestGenerateSession_SkipsWithPreIssuedToken(t *testing.T) {
	c := New(Config{ClientID: "C1", AccessToken: "pre-issued"})
	if err := c.GenerateSession(context.Background()); err != nil {
		t.Fatalf("GenerateSession: %v", err)
	}
	if c.AccessToken() != "pre-issued" {
		t.Errorf("access token = %q, want pre-issued", c.AccessToken())
	}
}

func TestPlaceOrder_HeadersAndBody(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("access-token") != "tok" {
			t.Errorf("access-token header = %q", r.Header.Get("access-token"))
		}
		if r.Header.Get("client-id") != "C1" {
			t.Errorf("client-id header = %q", r.Header.Get("client-id"))
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"orderId": "88201", "orderStatus": "PENDING"})
	}))
	defer srv.Close()

	c := New(Config{ClientID: "C1", AccessToken: "tok", RootURL: srv.URL})
	oid, err := c.PlaceOrder(context.Background(), OrderRequest{
		CorrelationID:   "cli-1",
		TransactionType: "BUY",
		ExchangeSegment: "NSE_FNO",
		ProductType:     "INTRADAY",
		OrderType:       "LIMIT",
		Validity:        "DAY",
		SecurityID:      "25",
		Quantity:        30,
		Price:           45005.50,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if oid != "88201" {
		t.Errorf("orderId = %q, want 88201", oid)
	}
	if body["dhanClientId"] != "C1" || body["securityId"] != "25" || body["transactionType"] != "BUY" {
		t.Errorf("order body = %v", body)
	}
	if body["price"] != 45005.50 {
		t.Errorf("price = %v, want 45005.50", body["price"])
	}
}

func TestOrderStatus_Decode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"orderId":            "88201",
			"orderStatus":        "TRADED",
			"filledQty":          30,
			"averageTradedPrice": 45006.00,
		})
	}))
	defer srv.Close()

	c := New(Config{ClientID: "C1", AccessToken: "tok", RootURL: srv.URL})
	st, err := c.OrderStatus(context.Background(), "88201")
	if err != nil {
		t.Fatalf("OrderStatus: %v", err)
	}
	if st.OrderStatus != "TRADED" || st.FilledQty != 30 || st.AverageTradedP != 45006.00 {
		t.Errorf("status = %+v", st)
	}
}

func TestAPIError_TransientClassification(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		e := &APIError{StatusCode: tc.code}
		if got := e.Transient(); got != tc.want {
			t.Errorf("Transient(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestPlaceOrder_HTTPErrorSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errorMessage":"Insufficient margin"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(Config{ClientID: "C1", AccessToken: "tok", RootURL: srv.URL, Timeout: 2 * time.Second})
	_, err := c.PlaceOrder(context.Background(), OrderRequest{SecurityID: "25", Quantity: 30})
	if err == nil {
		t.Fatal("expected error on HTTP 400")
	}
}
