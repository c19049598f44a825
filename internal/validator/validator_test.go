package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

type orderBody struct {
	Symbol      string `validate:"required,ticker"`
	Side        string `validate:"required,order_side"`
	Type        string `validate:"required,order_type"`
	TimeInForce string `validate:"required,time_in_force"`
}

type goalBody struct {
	Type     string `validate:"required,goal_type"`
	Status   string `validate:"omitempty,goal_status"`
	Currency string `validate:"omitempty,iso4217"`
	Provider string `validate:"omitempty,provider"`
}

func newValidate() *validator.Validate {
	v := validator.New()
	registerAll(v)
	return v
}

func TestOrderValidators(t *testing.T) {
	v := newValidate()

	tests := []struct {
		name    string
		body    orderBody
		wantErr bool
	}{
		{name: "valid_market_buy", body: orderBody{"AAPL", "BUY", "Market", "Day"}},
		{name: "case_insensitive", body: orderBody{"BRK.B", "sell", "limit", "gtc"}},
		{name: "crypto_pair", body: orderBody{"BTC-USD", "BUY", "Market", "IOC"}},
		{name: "bad_side", body: orderBody{"AAPL", "HOLD", "Market", "Day"}, wantErr: true},
		{name: "bad_type", body: orderBody{"AAPL", "BUY", "Trailing", "Day"}, wantErr: true},
		{name: "bad_ticker", body: orderBody{"AA PL", "BUY", "Market", "Day"}, wantErr: true},
		{name: "bad_tif", body: orderBody{"AAPL", "BUY", "Market", "Week"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(tt.body)
			if (err != nil) != tt.wantErr {
				t.Errorf("Struct() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGoalValidators(t *testing.T) {
	v := newValidate()

	tests := []struct {
		name    string
		body    goalBody
		wantErr bool
	}{
		{name: "valid", body: goalBody{Type: "savings", Status: "active", Currency: "usd", Provider: "teller"}},
		{name: "bad_type", body: goalBody{Type: "vacation"}, wantErr: true},
		{name: "bad_status", body: goalBody{Type: "custom", Status: "archived"}, wantErr: true},
		{name: "bad_currency", body: goalBody{Type: "custom", Currency: "XYZ"}, wantErr: true},
		{name: "bad_provider", body: goalBody{Type: "custom", Provider: "plaid"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(tt.body)
			if (err != nil) != tt.wantErr {
				t.Errorf("Struct() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
