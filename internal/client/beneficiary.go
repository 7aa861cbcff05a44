package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Beneficiary mirrors the beneficiary service's wire representation.
type Beneficiary struct {
	ID        int64  `json:"id"`
	LastName  string `json:"nom"`
	FirstName string `json:"prenom"`
	RIB       string `json:"rib"`
	Type      string `json:"type"`
	Active    bool   `json:"actif"`
	CreatedAt string `json:"dateCreation"`
}

// BeneficiaryClient talks to the beneficiary microservice over REST.
type BeneficiaryClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewBeneficiaryClient(baseURL string) *BeneficiaryClient {
	return &BeneficiaryClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *BeneficiaryClient) GetByID(ctx context.Context, id int64) (*Beneficiary, error) {
	var out Beneficiary
	if err := c.getJSON(ctx, fmt.Sprintf("%s/api/beneficiaires/%d", c.baseURL, id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *BeneficiaryClient) List(ctx context.Context) ([]Beneficiary, error) {
	var out []Beneficiary
	if err := c.getJSON(ctx, c.baseURL+"/api/beneficiaires", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Search queries beneficiaries whose name matches the given fragment.
func (c *BeneficiaryClient) Search(ctx context.Context, name string) ([]Beneficiary, error) {
	var out []Beneficiary
	endpoint := c.baseURL + "/api/beneficiaires/search?nom=" + url.QueryEscape(name)
	if err := c.getJSON(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BeneficiaryClient) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build beneficiary request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("beneficiary service unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read beneficiary response failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("beneficiary service returned status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode beneficiary response failed: %w", err)
	}
	return nil
}
