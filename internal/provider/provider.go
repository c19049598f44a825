package provider

import (
	"context"

	"flint/internal/models"
)

// Registrar creates and deletes remote users. Only providers with a
// user-scoped secret implement it.
type Registrar interface {
	RegisterUser(ctx context.Context, remoteUserID string) (*RemoteUser, error)
	DeleteUser(ctx context.Context, creds Credentials) error
}

// ConnectionManager manages remote authorizations.
type ConnectionManager interface {
	LoginURL(ctx context.Context, creds Credentials, req LoginRequest) (string, error)
	ListConnections(ctx context.Context, creds Credentials) ([]Connection, error)
	GetConnection(ctx context.Context, creds Credentials, id string) (*Connection, error)
	RefreshConnection(ctx context.Context, creds Credentials, id string) error
	DisableConnection(ctx context.Context, creds Credentials, id string) error
	RemoveConnection(ctx context.Context, creds Credentials, id string) error
}

// AccountSource reads accounts and their current holdings.
type AccountSource interface {
	// ListAccounts returns every account, or only those of authorizationID when set.
	ListAccounts(ctx context.Context, creds Credentials, authorizationID string) ([]Account, error)
	GetBalance(ctx context.Context, creds Credentials, accountID string) (*Balance, error)
	// GetPositions returns an empty slice when the account holds nothing.
	GetPositions(ctx context.Context, creds Credentials, accountID string) ([]Position, error)
}

// HistorySource reads retained history.
type HistorySource interface {
	ListOrders(ctx context.Context, creds Credentials, accountID string) ([]Order, error)
	ListActivities(ctx context.Context, creds Credentials, accountID string) ([]Activity, error)
}

// Adapter is what every provider integration implements.
type Adapter interface {
	Name() models.Provider
	ConnectionManager
	AccountSource
	HistorySource
}

// Trader places and inspects equity orders.
type Trader interface {
	PlaceOrder(ctx context.Context, creds Credentials, req OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, creds Credentials, accountID, orderID string) error
	GetOrderStatus(ctx context.Context, creds Credentials, accountID, orderID string) (*Order, error)
	SearchSymbols(ctx context.Context, creds Credentials, accountID, query string) ([]Symbol, error)
}

// CryptoTrader trades crypto instruments.
type CryptoTrader interface {
	SearchCryptoPairs(ctx context.Context, creds Credentials, accountID, base string) ([]CryptoPair, error)
	PreviewCryptoOrder(ctx context.Context, creds Credentials, req CryptoOrderRequest) (*CryptoPreview, error)
	PlaceCryptoOrder(ctx context.Context, creds Credentials, req CryptoOrderRequest) (*Order, error)
	GetCryptoQuote(ctx context.Context, creds Credentials, accountID, pair string) (*Quote, error)
}
