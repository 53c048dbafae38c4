package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var coinGeckoIDs = map[string]string{
	"tether":   "USDT",
	"bitcoin":  "BTC",
	"ethereum": "ETH",
}

// CoinGeckoSource reads token prices from the CoinGecko simple price API.
type CoinGeckoSource struct {
	BaseURL    string
	httpClient *http.Client
}

func NewCoinGeckoSource(baseURL string) *CoinGeckoSource {
	if baseURL == "" {
		baseURL = "https://api.coingecko.com"
	}
	return &CoinGeckoSource{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *CoinGeckoSource) Name() string { return "coingecko" }

func (s *CoinGeckoSource) Fetch(ctx context.Context) (map[Pair]decimal.Decimal, error) {
	url := fmt.Sprintf("%s/api/v3/simple/price?ids=tether,bitcoin,ethereum&vs_currencies=usd,inr", s.BaseURL)
	var body map[string]map[string]decimal.Decimal
	if err := getJSON(ctx, s.httpClient, url, &body); err != nil {
		return nil, err
	}

	out := make(map[Pair]decimal.Decimal)
	for id, symbol := range coinGeckoIDs {
		prices, ok := body[id]
		if !ok {
			continue
		}
		for vs, price := range prices {
			out[Pair{From: symbol, To: strings.ToUpper(vs)}] = price
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("coingecko returned no prices")
	}
	return out, nil
}

// FiatSource reads USD based fiat rates from an exchangerate-api compatible feed.
type FiatSource struct {
	BaseURL    string
	Symbols    []string
	httpClient *http.Client
}

func NewFiatSource(baseURL string, symbols ...string) *FiatSource {
	if baseURL == "" {
		baseURL = "https://api.exchangerate-api.com"
	}
	if len(symbols) == 0 {
		symbols = []string{"INR"}
	}
	return &FiatSource{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Symbols:    symbols,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *FiatSource) Name() string { return "fiat" }

func (s *FiatSource) Fetch(ctx context.Context) (map[Pair]decimal.Decimal, error) {
	var body struct {
		Base  string                     `json:"base"`
		Rates map[string]decimal.Decimal `json:"rates"`
	}
	if err := getJSON(ctx, s.httpClient, s.BaseURL+"/v4/latest/USD", &body); err != nil {
		return nil, err
	}

	out := make(map[Pair]decimal.Decimal)
	for _, symbol := range s.Symbols {
		symbol = strings.ToUpper(symbol)
		if rate, ok := body.Rates[symbol]; ok {
			out[Pair{From: "USD", To: symbol}] = rate
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("fiat feed returned none of %v", s.Symbols)
	}
	return out, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, into interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rate feed error (status %d): %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, into); err != nil {
		return fmt.Errorf("error unmarshaling response: %w", err)
	}
	return nil
}
