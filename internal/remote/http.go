package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/stormsync/internal/model"
	"github.com/dukerupert/stormsync/internal/retry"
)

const maxErrorBody = 512

// Config holds backend connection settings.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// HTTPClient implements Client over JSON/HTTP.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPClient(cfg Config, logger *slog.Logger) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "remote"),
	}
}

func userPath(userID string, rest ...string) string {
	parts := []string{"/v1/users", url.PathEscape(userID)}
	for _, r := range rest {
		parts = append(parts, url.PathEscape(r))
	}
	return strings.Join(parts, "/")
}

func (c *HTTPClient) FetchPreferences(ctx context.Context, userID string) (model.PreferenceSet, error) {
	var prefs model.PreferenceSet
	if err := c.do(ctx, http.MethodGet, userPath(userID, "preferences"), nil, &prefs); err != nil {
		return model.PreferenceSet{}, err
	}
	if prefs.UserID == "" {
		prefs.UserID = userID
	}
	if prefs.UserID != userID {
		return model.PreferenceSet{}, malformed(fmt.Errorf("preferences for %q returned for %q", prefs.UserID, userID))
	}
	if err := prefs.Validate(); err != nil {
		return model.PreferenceSet{}, malformed(err)
	}
	return prefs.Normalized(), nil
}

func (c *HTTPClient) WritePreferences(ctx context.Context, userID string, prefs model.PreferenceSet) error {
	prefs.UserID = userID
	return c.do(ctx, http.MethodPut, userPath(userID, "preferences"), prefs, nil)
}

func (c *HTTPClient) FetchLocationPreference(ctx context.Context, userID, locationID string) (model.LocationPreference, error) {
	var lp model.LocationPreference
	if err := c.do(ctx, http.MethodGet, userPath(userID, "locations", locationID, "preferences"), nil, &lp); err != nil {
		return model.LocationPreference{}, err
	}
	lp.UserID = userID
	if lp.LocationID == "" {
		lp.LocationID = locationID
	}
	if lp.LocationID != locationID {
		return model.LocationPreference{}, malformed(fmt.Errorf("location %q returned for %q", lp.LocationID, locationID))
	}
	return lp, nil
}

type locationPreferenceBody struct {
	NotificationsEnabled bool `json:"notifications_enabled"`
}

func (c *HTTPClient) WriteLocationPreference(ctx context.Context, userID, locationID string, enabled bool) error {
	return c.do(ctx, http.MethodPut, userPath(userID, "locations", locationID, "preferences"),
		locationPreferenceBody{NotificationsEnabled: enabled}, nil)
}

func (c *HTTPClient) FetchHistory(ctx context.Context, filter model.HistoryFilter) ([]model.NotificationRecord, error) {
	q := url.Values{}
	if filter.Type != "" {
		q.Set("type", string(filter.Type))
	}
	if filter.LocationID != "" {
		q.Set("location_id", filter.LocationID)
	}
	if filter.UnreadOnly {
		q.Set("unread", "true")
	}
	if !filter.Since.IsZero() {
		q.Set("since", filter.Since.UTC().Format(time.RFC3339))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := userPath(filter.UserID, "notifications")
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var recs []model.NotificationRecord
	if err := c.do(ctx, http.MethodGet, path, nil, &recs); err != nil {
		return nil, err
	}
	for i := range recs {
		if recs[i].UserID == "" {
			recs[i].UserID = filter.UserID
		}
	}
	return recs, nil
}

type deviceTokenBody struct {
	Token string `json:"token"`
}

func (c *HTTPClient) RegisterDeviceToken(ctx context.Context, userID, token string) error {
	return c.do(ctx, http.MethodPut, userPath(userID, "device-token"), deviceTokenBody{Token: token}, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	correlationID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-Id", correlationID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("remote request failed", "method", method, "path", path, "correlation_id", correlationID, "error", err)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("remote request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
		"correlation_id", correlationID,
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return malformed(fmt.Errorf("decode %s %s: %w", method, path, err))
	}
	return nil
}

func malformed(err error) error {
	return retry.Permanent(fmt.Errorf("%w: %v", ErrMalformedPayload, err))
}
