// Package registry consumes an external company-register API as an opaque
// lookup-by-name-or-number service. It is best effort throughout: the
// resolver degrades to "no candidates" when the registry is unavailable.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/regwatch/backend/internal/metrics"
	"github.com/regwatch/backend/internal/storage/models"
	"github.com/regwatch/backend/pkg/circuitbreaker"
	"github.com/regwatch/backend/pkg/logger"
)

// Cache is the optional lookup cache. Nil-safe: a nil Cache disables caching.
type Cache interface {
	GetLookup(ctx context.Context, nameOrNumber string) ([]models.CandidateCompany, bool, error)
	SetLookup(ctx context.Context, nameOrNumber string, candidates []models.CandidateCompany) error
}

type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxResults int
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	cache      Cache
}

func NewClient(cfg Config, cache Cache) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = 5
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker: circuitbreaker.NewCircuitBreaker("registry", circuitbreaker.Config{
			FailureThreshold: 5,
			Timeout:          30 * time.Second,
			Logger:           logger.Log,
		}),
		cache: cache,
	}
}

// Lookup searches the register for companies matching a name or registration
// number.
func (c *Client) Lookup(ctx context.Context, nameOrNumber string) ([]models.CandidateCompany, error) {
	if c.cache != nil {
		cached, found, err := c.cache.GetLookup(ctx, nameOrNumber)
		if err != nil {
			logger.Warn("Registry cache read failed", zap.Error(err))
		} else if found {
			return cached, nil
		}
	}

	var candidates []models.CandidateCompany
	err := c.breaker.Execute(ctx, func() error {
		var err error
		candidates, err = c.search(ctx, nameOrNumber)
		return err
	})
	if err != nil {
		metrics.RegistryLookups.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.RegistryLookups.WithLabelValues("ok").Inc()

	if c.cache != nil {
		if err := c.cache.SetLookup(ctx, nameOrNumber, candidates); err != nil {
			logger.Warn("Registry cache write failed", zap.Error(err))
		}
	}

	return candidates, nil
}

func (c *Client) search(ctx context.Context, nameOrNumber string) ([]models.CandidateCompany, error) {
	q := url.Values{}
	q.Set("q", nameOrNumber)
	q.Set("items_per_page", fmt.Sprintf("%d", c.cfg.MaxResults))
	searchURL := fmt.Sprintf("%s/search/companies?%s", c.cfg.BaseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.SetBasicAuth(c.cfg.APIKey, "")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry response: %w", err)
	}

	var searchResp struct {
		Items []struct {
			Title         string `json:"title"`
			CompanyNumber string `json:"company_number"`
			Address       string `json:"address_snippet"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("failed to parse registry response: %w", err)
	}

	candidates := make([]models.CandidateCompany, 0, len(searchResp.Items))
	for _, item := range searchResp.Items {
		candidates = append(candidates, models.CandidateCompany{
			Name:               item.Title,
			RegistrationNumber: item.CompanyNumber,
			Address:            item.Address,
		})
	}

	logger.Debug("Registry lookup completed",
		zap.String("query", nameOrNumber),
		zap.Int("candidates", len(candidates)),
	)

	return candidates, nil
}
