package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const analyzerAPIVersion = "2023-07-31"

// LayoutAnalyzer is the high-fidelity extraction backend: a document
// analysis service speaking the Azure Document Intelligence REST surface
// (prebuilt-layout model, async analyze + poll). It preserves table
// structure as pipe-delimited text and surfaces extracted key/value pairs
// as one synthetic unit.
type LayoutAnalyzer struct {
	endpoint   string
	apiKey     string
	enabled    bool
	httpClient *http.Client

	pollInterval time.Duration
}

func NewLayoutAnalyzer(endpoint, apiKey string, enabled bool) *LayoutAnalyzer {
	return &LayoutAnalyzer{
		endpoint:     strings.TrimRight(endpoint, "/"),
		apiKey:       apiKey,
		enabled:      enabled && endpoint != "" && apiKey != "",
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		pollInterval: 2 * time.Second,
	}
}

func (a *LayoutAnalyzer) Enabled() bool {
	return a != nil && a.enabled
}

type analyzeResult struct {
	Status        string `json:"status"`
	AnalyzeResult struct {
		Pages []struct {
			PageNumber int     `json:"pageNumber"`
			Width      float64 `json:"width"`
			Height     float64 `json:"height"`
			Unit       string  `json:"unit"`
			Lines      []struct {
				Content string `json:"content"`
			} `json:"lines"`
		} `json:"pages"`
		Tables []struct {
			RowCount    int `json:"rowCount"`
			ColumnCount int `json:"columnCount"`
			Cells       []struct {
				RowIndex    int    `json:"rowIndex"`
				ColumnIndex int    `json:"columnIndex"`
				Content     string `json:"content"`
			} `json:"cells"`
			BoundingRegions []struct {
				PageNumber int `json:"pageNumber"`
			} `json:"boundingRegions"`
		} `json:"tables"`
		KeyValuePairs []struct {
			Key   *struct{ Content string } `json:"key"`
			Value *struct{ Content string } `json:"value"`
		} `json:"keyValuePairs"`
	} `json:"analyzeResult"`
}

// Analyze submits the document, polls the operation until it settles, and
// converts the result to per-page units plus an optional key/value unit.
func (a *LayoutAnalyzer) Analyze(ctx context.Context, data []byte, filename string) ([]Unit, error) {
	if !a.Enabled() {
		return nil, fmt.Errorf("%w: layout analyzer is not configured", ErrExtraction)
	}

	opURL, err := a.submit(ctx, data)
	if err != nil {
		return nil, err
	}
	result, err := a.poll(ctx, opURL)
	if err != nil {
		return nil, err
	}
	units := a.toUnits(result, filename)
	if len(units) == 0 {
		return nil, fmt.Errorf("%w: analyzer returned no content for %q", ErrExtraction, filename)
	}
	return units, nil
}

func (a *LayoutAnalyzer) submit(ctx context.Context, data []byte) (string, error) {
	url := fmt.Sprintf("%s/formrecognizer/documentModels/prebuilt-layout:analyze?api-version=%s",
		a.endpoint, analyzerAPIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: build analyze request: %v", ErrExtraction, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Ocp-Apim-Subscription-Key", a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: analyze request: %v", ErrExtraction, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: analyze status %d: %s", ErrExtraction, resp.StatusCode, string(raw))
	}

	opURL := resp.Header.Get("Operation-Location")
	if opURL == "" {
		return "", fmt.Errorf("%w: analyzer returned no operation location", ErrExtraction)
	}
	return opURL, nil
}

func (a *LayoutAnalyzer) poll(ctx context.Context, opURL string) (*analyzeResult, error) {
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, opURL, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: build poll request: %v", ErrExtraction, err)
		}
		req.Header.Set("Ocp-Apim-Subscription-Key", a.apiKey)

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: poll request: %v", ErrExtraction, err)
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: read poll response: %v", ErrExtraction, err)
		}
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%w: poll status %d: %s", ErrExtraction, resp.StatusCode, string(raw))
		}

		var result analyzeResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("%w: parse poll response: %v", ErrExtraction, err)
		}
		switch result.Status {
		case "succeeded":
			return &result, nil
		case "failed":
			return nil, fmt.Errorf("%w: analyzer rejected the document", ErrExtraction)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: poll cancelled: %v", ErrExtraction, ctx.Err())
		case <-time.After(a.pollInterval):
		}
	}
}

func (a *LayoutAnalyzer) toUnits(result *analyzeResult, filename string) []Unit {
	units := make([]Unit, 0, len(result.AnalyzeResult.Pages)+1)

	for _, page := range result.AnalyzeResult.Pages {
		var content strings.Builder
		for _, line := range page.Lines {
			content.WriteString(line.Content)
			content.WriteString("\n")
		}

		tables := a.tablesForPage(result, page.PageNumber)
		metadata := map[string]string{
			"source":             filename,
			"file_type":          "pdf",
			"page_number":        strconv.Itoa(page.PageNumber),
			"extraction_backend": BackendLayoutAnalyzer,
		}
		if len(tables) > 0 {
			content.WriteString("\n=== TABLES ===\n")
			for _, table := range tables {
				content.WriteString(table)
				content.WriteString("\n\n")
			}
			metadata["has_tables"] = "true"
			metadata["table_count"] = strconv.Itoa(len(tables))
		}

		if strings.TrimSpace(content.String()) == "" {
			continue
		}
		units = append(units, Unit{Content: content.String(), Metadata: metadata})
	}

	if kv := a.formatKeyValuePairs(result); kv != "" {
		units = append(units, Unit{
			Content: kv,
			Metadata: map[string]string{
				"source":             filename,
				"type":               "key_value_pairs",
				"extraction_backend": BackendLayoutAnalyzer,
			},
		})
	}
	return units
}

func (a *LayoutAnalyzer) tablesForPage(result *analyzeResult, pageNumber int) []string {
	var tables []string
	for _, table := range result.AnalyzeResult.Tables {
		onPage := false
		for _, region := range table.BoundingRegions {
			if region.PageNumber == pageNumber {
				onPage = true
				break
			}
		}
		if onPage {
			tables = append(tables, formatTable(table.RowCount, table.ColumnCount, table.Cells))
		}
	}
	return tables
}

type tableCell = struct {
	RowIndex    int    `json:"rowIndex"`
	ColumnIndex int    `json:"columnIndex"`
	Content     string `json:"content"`
}

// formatTable renders a table as pipe-delimited pseudo-markdown. A table
// whose declared shape cannot hold its cells is rendered best-effort as flat
// text rather than dropped.
func formatTable(rows, cols int, cells []tableCell) string {
	if rows <= 0 || cols <= 0 {
		return flattenCells(cells)
	}

	grid := make([][]string, rows)
	for i := range grid {
		grid[i] = make([]string, cols)
	}
	for _, cell := range cells {
		if cell.RowIndex < 0 || cell.RowIndex >= rows || cell.ColumnIndex < 0 || cell.ColumnIndex >= cols {
			return flattenCells(cells)
		}
		grid[cell.RowIndex][cell.ColumnIndex] = cell.Content
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Table (%d rows, %d columns):\n", rows, cols)
	for i, row := range grid {
		sb.WriteString("| ")
		for _, cell := range row {
			sb.WriteString(cell)
			sb.WriteString(" | ")
		}
		sb.WriteString("\n")
		if i == 0 {
			sb.WriteString("|")
			for range row {
				sb.WriteString("---|")
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func flattenCells(cells []tableCell) string {
	parts := make([]string, 0, len(cells))
	for _, cell := range cells {
		if strings.TrimSpace(cell.Content) != "" {
			parts = append(parts, cell.Content)
		}
	}
	return strings.Join(parts, " ")
}

func (a *LayoutAnalyzer) formatKeyValuePairs(result *analyzeResult) string {
	var sb strings.Builder
	for _, pair := range result.AnalyzeResult.KeyValuePairs {
		if pair.Key == nil || pair.Key.Content == "" {
			continue
		}
		value := ""
		if pair.Value != nil {
			value = pair.Value.Content
		}
		sb.WriteString(pair.Key.Content)
		sb.WriteString(": ")
		sb.WriteString(value)
		sb.WriteString("\n")
	}
	if sb.Len() == 0 {
		return ""
	}
	return "=== EXTRACTED FIELDS ===\n" + sb.String()
}
