package testutil

import (
	"context"
	"fmt"
	"sync"

	apperrors "flint/internal/errors"
	"flint/internal/models"
	"flint/internal/provider"
)

// FakeAdapter is an in-memory provider. Errors are keyed by method name or
// "method:id" and returned before any data; Calls counts every method.
type FakeAdapter struct {
	mu sync.Mutex

	ProviderName models.Provider
	Connections  []provider.Connection
	Accounts     []provider.Account
	Balances     map[string]*provider.Balance
	Positions    map[string][]provider.Position
	Orders       map[string][]provider.Order
	Activities   map[string][]provider.Activity
	Symbols      []provider.Symbol
	Errors       map[string]error
	Calls        map[string]int

	// LastCrypto holds the most recent crypto order request.
	LastCrypto provider.CryptoOrderRequest
	// LastLogin holds the most recent portal request.
	LastLogin provider.LoginRequest
	// Seen records the credentials of every call.
	Seen []provider.Credentials
}

var (
	_ provider.Adapter      = (*FakeAdapter)(nil)
	_ provider.Trader       = (*FakeAdapter)(nil)
	_ provider.CryptoTrader = (*FakeAdapter)(nil)
)

// NewFakeAdapter returns an empty fake for p.
func NewFakeAdapter(p models.Provider) *FakeAdapter {
	return &FakeAdapter{
		ProviderName: p,
		Balances:     map[string]*provider.Balance{},
		Positions:    map[string][]provider.Position{},
		Orders:       map[string][]provider.Order{},
		Activities:   map[string][]provider.Activity{},
		Errors:       map[string]error{},
		Calls:        map[string]int{},
	}
}

// SetError makes key fail with err; nil clears it.
func (f *FakeAdapter) SetError(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.Errors, key)
		return
	}
	f.Errors[key] = err
}

// CallCount returns how often method was called.
func (f *FakeAdapter) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[method]
}

func (f *FakeAdapter) enter(method, id string, creds provider.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls[method]++
	f.Seen = append(f.Seen, creds)
	if err, ok := f.Errors[method+":"+id]; ok {
		return err
	}
	return f.Errors[method]
}

func (f *FakeAdapter) Name() models.Provider { return f.ProviderName }

func (f *FakeAdapter) LoginURL(_ context.Context, creds provider.Credentials, req provider.LoginRequest) (string, error) {
	if err := f.enter("LoginURL", "", creds); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.LastLogin = req
	f.mu.Unlock()
	url := "https://portal.example/" + creds.RemoteUserID
	if req.ReconnectAuthorizationID != "" {
		url += "?reconnect=" + req.ReconnectAuthorizationID
	}
	return url, nil
}

func (f *FakeAdapter) ListConnections(_ context.Context, creds provider.Credentials) ([]provider.Connection, error) {
	if err := f.enter("ListConnections", "", creds); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Connection(nil), f.Connections...), nil
}

func (f *FakeAdapter) GetConnection(_ context.Context, creds provider.Credentials, id string) (*provider.Connection, error) {
	if err := f.enter("GetConnection", id, creds); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Connections {
		if f.Connections[i].ID == id {
			c := f.Connections[i]
			return &c, nil
		}
	}
	return nil, apperrors.NewProviderError(string(f.ProviderName), apperrors.CodeNotFound, "connection not found")
}

func (f *FakeAdapter) RefreshConnection(_ context.Context, creds provider.Credentials, id string) error {
	return f.enter("RefreshConnection", id, creds)
}

func (f *FakeAdapter) DisableConnection(_ context.Context, creds provider.Credentials, id string) error {
	return f.enter("DisableConnection", id, creds)
}

func (f *FakeAdapter) RemoveConnection(_ context.Context, creds provider.Credentials, id string) error {
	if err := f.enter("RemoveConnection", id, creds); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.Connections[:0]
	for _, c := range f.Connections {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	f.Connections = kept
	return nil
}

func (f *FakeAdapter) ListAccounts(_ context.Context, creds provider.Credentials, authorizationID string) ([]provider.Account, error) {
	if err := f.enter("ListAccounts", authorizationID, creds); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []provider.Account
	for _, a := range f.Accounts {
		if authorizationID == "" || a.ConnectionID == authorizationID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *FakeAdapter) GetBalance(_ context.Context, creds provider.Credentials, accountID string) (*provider.Balance, error) {
	if err := f.enter("GetBalance", accountID, creds); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.Balances[accountID]; ok {
		c := *b
		return &c, nil
	}
	return &provider.Balance{Currency: "USD"}, nil
}

func (f *FakeAdapter) GetPositions(_ context.Context, creds provider.Credentials, accountID string) ([]provider.Position, error) {
	if err := f.enter("GetPositions", accountID, creds); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Position{}, f.Positions[accountID]...), nil
}

func (f *FakeAdapter) ListOrders(_ context.Context, creds provider.Credentials, accountID string) ([]provider.Order, error) {
	if err := f.enter("ListOrders", accountID, creds); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Order{}, f.Orders[accountID]...), nil
}

func (f *FakeAdapter) ListActivities(_ context.Context, creds provider.Credentials, accountID string) ([]provider.Activity, error) {
	if err := f.enter("ListActivities", accountID, creds); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Activity{}, f.Activities[accountID]...), nil
}

func (f *FakeAdapter) PlaceOrder(_ context.Context, creds provider.Credentials, req provider.OrderRequest) (*provider.Order, error) {
	if err := f.enter("PlaceOrder", req.AccountID, creds); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	o := provider.Order{
		ID:          fmt.Sprintf("ord-%d", len(f.Orders[req.AccountID])+1),
		AccountID:   req.AccountID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        req.Type,
		TimeInForce: req.TimeInForce,
		Quantity:    req.Quantity.Decimal,
		Price:       req.LimitPrice,
		Status:      models.OrderStatusOpen,
	}
	f.Orders[req.AccountID] = append(f.Orders[req.AccountID], o)
	return &o, nil
}

func (f *FakeAdapter) CancelOrder(_ context.Context, creds provider.Credentials, accountID, orderID string) error {
	if err := f.enter("CancelOrder", orderID, creds); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Orders[accountID] {
		if f.Orders[accountID][i].ID == orderID {
			f.Orders[accountID][i].Status = models.OrderStatusCancelled
			return nil
		}
	}
	return apperrors.NewProviderError(string(f.ProviderName), apperrors.CodeNotFound, "order not found")
}

func (f *FakeAdapter) GetOrderStatus(_ context.Context, creds provider.Credentials, accountID, orderID string) (*provider.Order, error) {
	if err := f.enter("GetOrderStatus", orderID, creds); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.Orders[accountID] {
		if o.ID == orderID {
			return &o, nil
		}
	}
	return nil, apperrors.ErrOrderNotFound
}

func (f *FakeAdapter) SearchSymbols(_ context.Context, creds provider.Credentials, accountID, query string) ([]provider.Symbol, error) {
	if err := f.enter("SearchSymbols", accountID, creds); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Symbol{}, f.Symbols...), nil
}

func (f *FakeAdapter) SearchCryptoPairs(_ context.Context, creds provider.Credentials, accountID, base string) ([]provider.CryptoPair, error) {
	if err := f.enter("SearchCryptoPairs", accountID, creds); err != nil {
		return nil, err
	}
	b := provider.BaseSymbol(base)
	return []provider.CryptoPair{{Symbol: b + "-USD", Base: b, Quote: "USD"}}, nil
}

func (f *FakeAdapter) PreviewCryptoOrder(_ context.Context, creds provider.Credentials, req provider.CryptoOrderRequest) (*provider.CryptoPreview, error) {
	if err := f.enter("PreviewCryptoOrder", req.AccountID, creds); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.LastCrypto = req
	f.mu.Unlock()
	return &provider.CryptoPreview{Symbol: provider.BaseSymbol(req.Pair), EstimatedTotal: req.Amount}, nil
}

func (f *FakeAdapter) PlaceCryptoOrder(_ context.Context, creds provider.Credentials, req provider.CryptoOrderRequest) (*provider.Order, error) {
	if err := f.enter("PlaceCryptoOrder", req.AccountID, creds); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LastCrypto = req
	o := provider.Order{
		ID:        fmt.Sprintf("crypto-%d", len(f.Orders[req.AccountID])+1),
		AccountID: req.AccountID,
		Symbol:    provider.BaseSymbol(req.Pair),
		Side:      req.Side,
		Quantity:  req.Amount,
		Status:    models.OrderStatusPending,
	}
	f.Orders[req.AccountID] = append(f.Orders[req.AccountID], o)
	return &o, nil
}

func (f *FakeAdapter) GetCryptoQuote(_ context.Context, creds provider.Credentials, accountID, pair string) (*provider.Quote, error) {
	if err := f.enter("GetCryptoQuote", accountID, creds); err != nil {
		return nil, err
	}
	return &provider.Quote{Symbol: provider.BaseSymbol(pair)}, nil
}

// FakeRegistrar issues sequential secrets and records deletions.
type FakeRegistrar struct {
	mu      sync.Mutex
	calls   int
	Deleted []string
	Err     error
}

func (r *FakeRegistrar) RegisterUser(_ context.Context, remoteUserID string) (*provider.RemoteUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.Err != nil {
		return nil, r.Err
	}
	return &provider.RemoteUser{RemoteUserID: remoteUserID, Secret: fmt.Sprintf("secret-%d", r.calls)}, nil
}

func (r *FakeRegistrar) DeleteUser(_ context.Context, creds provider.Credentials) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Deleted = append(r.Deleted, creds.RemoteUserID)
	return nil
}

// Registrations returns how many times RegisterUser was called.
func (r *FakeRegistrar) Registrations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
