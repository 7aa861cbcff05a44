package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Transfer mirrors the transfer service's wire representation.
type Transfer struct {
	ID            int64   `json:"id"`
	BeneficiaryID int64   `json:"beneficiaireId"`
	SourceRIB     string  `json:"ribSource"`
	Amount        float64 `json:"montant"`
	Description   string  `json:"description"`
	Date          string  `json:"dateVirement"`
	Type          string  `json:"type"`
	Status        string  `json:"statut"`
}

// TransferClient talks to the transfer microservice over REST.
type TransferClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewTransferClient(baseURL string) *TransferClient {
	return &TransferClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *TransferClient) GetByID(ctx context.Context, id int64) (*Transfer, error) {
	var out Transfer
	if err := c.fetch(ctx, fmt.Sprintf("%s/api/virements/%d", c.baseURL, id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *TransferClient) List(ctx context.Context) ([]Transfer, error) {
	var out []Transfer
	if err := c.fetch(ctx, c.baseURL+"/api/virements", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TransferClient) ListByBeneficiary(ctx context.Context, beneficiaryID int64) ([]Transfer, error) {
	var out []Transfer
	endpoint := fmt.Sprintf("%s/api/virements/beneficiaire/%d", c.baseURL, beneficiaryID)
	if err := c.fetch(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TransferClient) fetch(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build transfer request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transfer service unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read transfer response failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("transfer service returned status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode transfer response failed: %w", err)
	}
	return nil
}
