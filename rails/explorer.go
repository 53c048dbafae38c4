package rails

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ExplorerLookup queries a block explorer that exposes
// GET {base}/api/tx/{network}/{hash}.
type ExplorerLookup struct {
	BaseURL    string
	APIKey     string
	httpClient *http.Client
}

func NewExplorerLookup(baseURL, apiKey string) *ExplorerLookup {
	return &ExplorerLookup{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type explorerTx struct {
	Hash          string          `json:"hash"`
	Confirmed     bool            `json:"confirmed"`
	To            string          `json:"to"`
	Amount        decimal.Decimal `json:"amount"`
	Confirmations int             `json:"confirmations"`
}

func (l *ExplorerLookup) FetchTransaction(ctx context.Context, network, hash string) (*Transaction, error) {
	endpoint := fmt.Sprintf("%s/api/tx/%s/%s", l.BaseURL, url.PathEscape(strings.ToLower(network)), url.PathEscape(hash))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if l.APIKey != "" {
		req.Header.Set("X-API-Key", l.APIKey)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrTransactionNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("explorer error (status %d): %s", resp.StatusCode, string(body))
	}

	var tx explorerTx
	if err := json.Unmarshal(body, &tx); err != nil {
		return nil, fmt.Errorf("error unmarshaling response: %w", err)
	}
	return &Transaction{
		Hash:          tx.Hash,
		Confirmed:     tx.Confirmed,
		ToAddress:     tx.To,
		Amount:        tx.Amount,
		Confirmations: tx.Confirmations,
	}, nil
}
