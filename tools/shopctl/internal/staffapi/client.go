// Package staffapi calls the staff-service payroll endpoints through the
// gateway.
package staffapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modernmen/shopfront/libs/auth"
	"github.com/modernmen/shopfront/libs/httpx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

// AdminToken mints a short-lived admin token for tenantID with the shared
// HS256 secret.
func AdminToken(secret, tenantID string, now time.Time) (string, error) {
	return auth.SignHS256(auth.NewClaims("shopctl", tenantID, auth.RoleAdmin, "", now, 5*time.Minute), secret)
}

type PayrollRecord struct {
	ID            string  `json:"id"`
	StylistID     string  `json:"stylistId"`
	StylistName   string  `json:"stylistName"`
	Status        string  `json:"status"`
	RegularHours  float64 `json:"regularHours"`
	OvertimeHours float64 `json:"overtimeHours"`
	GrossCents    int64   `json:"grossPayCents"`
	NetCents      int64   `json:"netPayCents"`
}

type PayrollRun struct {
	Records []PayrollRecord `json:"payrollRecords"`
	Skipped []string        `json:"skippedApproved"`
}

// GeneratePayroll asks staff-service to (re)generate pending payroll records
// for the inclusive period.
func (c *Client) GeneratePayroll(ctx context.Context, from, to string) (PayrollRun, error) {
	body, err := json.Marshal(map[string]string{"period_start": from, "period_end": to})
	if err != nil {
		return PayrollRun{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/staff/payroll", bytes.NewReader(body))
	if err != nil {
		return PayrollRun{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return PayrollRun{}, err
	}
	defer resp.Body.Close()

	var env struct {
		Data  PayrollRun       `json:"data"`
		Error *httpx.ErrorBody `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return PayrollRun{}, fmt.Errorf("decode payroll response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if env.Error != nil {
			return PayrollRun{}, fmt.Errorf("payroll failed: %s (%s)", env.Error.Message, env.Error.Code)
		}
		return PayrollRun{}, fmt.Errorf("payroll failed with status %d", resp.StatusCode)
	}
	return env.Data, nil
}
