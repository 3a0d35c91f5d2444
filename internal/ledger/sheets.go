package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	sheetsScope     = "https://www.googleapis.com/auth/spreadsheets"
	defaultTokenURL = "https://oauth2.googleapis.com/token"
	defaultBaseURL  = "https://sheets.googleapis.com"
	defaultRange    = "Orders!A:Z"
)

// Sheets appends rows to a Google spreadsheet using a service account.
// Access tokens are minted from a self-signed RS256 JWT and cached until
// shortly before expiry.
type Sheets struct {
	ServiceAccountEmail string
	PrivateKeyPEM       []byte
	SpreadsheetID       string
	Range               string
	BaseURL             string
	TokenURL            string
	HTTP                *http.Client
	Now                 func() time.Time

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func (s *Sheets) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Sheets) httpClient() *http.Client {
	if s.HTTP != nil {
		return s.HTTP
	}
	return &http.Client{
		Timeout:   15 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func (s *Sheets) tokenURL() string {
	if strings.TrimSpace(s.TokenURL) == "" {
		return defaultTokenURL
	}
	return s.TokenURL
}

func (s *Sheets) baseURL() string {
	if strings.TrimSpace(s.BaseURL) == "" {
		return defaultBaseURL
	}
	return strings.TrimRight(s.BaseURL, "/")
}

func (s *Sheets) sheetRange() string {
	if strings.TrimSpace(s.Range) == "" {
		return defaultRange
	}
	return s.Range
}

func (s *Sheets) signAssertion(now time.Time) (string, error) {
	if s.ServiceAccountEmail == "" || len(s.PrivateKeyPEM) == 0 {
		return "", errors.New("ledger: service account not configured")
	}
	tok, err := jwt.NewBuilder().
		Issuer(s.ServiceAccountEmail).
		Audience([]string{s.tokenURL()}).
		IssuedAt(now).
		Expiration(now.Add(time.Hour)).
		Claim("scope", sheetsScope).
		Build()
	if err != nil {
		return "", err
	}
	key, err := jwk.ParseKey(s.PrivateKeyPEM, jwk.WithPEM(true))
	if err != nil {
		return "", fmt.Errorf("ledger: parse service account key: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, key))
	if err != nil {
		return "", fmt.Errorf("ledger: sign assertion: %w", err)
	}
	return string(signed), nil
}

func (s *Sheets) token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if s.accessToken != "" && now.Before(s.tokenExpiry.Add(-time.Minute)) {
		return s.accessToken, nil
	}
	assertion, err := s.signAssertion(now)
	if err != nil {
		return "", err
	}
	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", assertion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL(),
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("ledger: token exchange: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("ledger: token exchange: %s", resp.Status)
	}
	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", err
	}
	if payload.AccessToken == "" {
		return "", errors.New("ledger: token exchange returned no access token")
	}
	s.accessToken = payload.AccessToken
	s.tokenExpiry = now.Add(time.Duration(payload.ExpiresIn) * time.Second)
	return s.accessToken, nil
}

// Append adds one row to the configured sheet range.
func (s *Sheets) Append(ctx context.Context, row Row) error {
	if s == nil || s.SpreadsheetID == "" {
		return errors.New("ledger: spreadsheet not configured")
	}
	token, err := s.token(ctx)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s:append?valueInputOption=USER_ENTERED",
		s.baseURL(), url.PathEscape(s.SpreadsheetID), url.PathEscape(s.sheetRange()))
	payload, err := json.Marshal(map[string]any{"values": [][]any{row.Values()}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("ledger: append: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ledger: append: %s", resp.Status)
	}
	return nil
}
