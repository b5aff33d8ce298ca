// Package nvd enriches findings with CVE metadata from the NVD API.
package nvd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Top-level response
type NVDResponse struct {
	ResultsPerPage  int          `json:"resultsPerPage"`
	StartIndex      int          `json:"startIndex"`
	TotalResults    int          `json:"totalResults"`
	Format          string       `json:"format"`
	Version         string       `json:"version"`
	Timestamp       string       `json:"timestamp"`
	Vulnerabilities []DefCVEItem `json:"vulnerabilities"`
}

// An item in the "vulnerabilities" array
type DefCVEItem struct {
	CVE CveItem `json:"cve"`
}

// CVE object per NVD schema, trimmed to the fields enrichment uses.
type CveItem struct {
	ID           string       `json:"id"`
	VulnStatus   string       `json:"vulnStatus"`
	Published    string       `json:"published"`
	LastModified string       `json:"lastModified"`
	Descriptions []LangString `json:"descriptions"`
	Metrics      Metrics      `json:"metrics,omitempty"`
}

// "descriptions" array items
type LangString struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

// Container for multiple CVSS versions
type Metrics struct {
	CvssMetricV31 []CvssV31 `json:"cvssMetricV31,omitempty"`
	CvssMetricV30 []CvssV30 `json:"cvssMetricV30,omitempty"`
}

// CVSS v3.1
type CvssV31 struct {
	Source   string      `json:"source"`
	Type     string      `json:"type"`
	CvssData CvssDataV31 `json:"cvssData"`
}

// CVSS v3.0
type CvssV30 struct {
	Source   string      `json:"source"`
	Type     string      `json:"type"`
	CvssData CvssDataV31 `json:"cvssData"`
}

// CVSS v3.x data
type CvssDataV31 struct {
	Version      string  `json:"version"`
	VectorString string  `json:"vectorString"`
	BaseScore    float64 `json:"baseScore"`
	BaseSeverity string  `json:"baseSeverity"`
}

const apiBase = "https://services.nvd.nist.gov/rest/json/cves/2.0"

// Client queries the NVD API. BaseURL is overridable for tests.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient creates an NVD client with a 15s request timeout.
func NewClient() *Client {
	return &Client{
		BaseURL: apiBase,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// GetCVE fetches one CVE record by ID. An unknown CVE returns a zero item
// and no error, matching the API's empty result set.
func (c *Client) GetCVE(ctx context.Context, vid string) (CveItem, error) {
	var baseCve CveItem
	url := fmt.Sprintf("%s?cveId=%s", c.BaseURL, vid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return baseCve, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return baseCve, fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return baseCve, fmt.Errorf("received status code %d from NVD API", resp.StatusCode)
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return baseCve, fmt.Errorf("failed to read response body: %w", err)
	}
	var nvdResp NVDResponse
	if err := json.Unmarshal(bodyBytes, &nvdResp); err != nil {
		return baseCve, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	if len(nvdResp.Vulnerabilities) == 0 {
		return CveItem{}, nil
	}
	return nvdResp.Vulnerabilities[0].CVE, nil
}

// Score extracts the CVSS v3 base score and severity, preferring v3.1.
func Score(item CveItem) (float64, string) {
	if len(item.Metrics.CvssMetricV31) > 0 {
		d := item.Metrics.CvssMetricV31[0].CvssData
		return d.BaseScore, d.BaseSeverity
	}
	if len(item.Metrics.CvssMetricV30) > 0 {
		d := item.Metrics.CvssMetricV30[0].CvssData
		return d.BaseScore, d.BaseSeverity
	}
	return 0, ""
}

var cveRe = regexp.MustCompile(`(?i)\bCVE-\d{4}-\d{4,}\b`)

// ExtractCVEID finds the first CVE identifier in free text, normalized to
// upper case. Returns an empty string when none is present.
func ExtractCVEID(text string) string {
	m := cveRe.FindString(text)
	return strings.ToUpper(m)
}
