package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Menu is one navigation entry. Opaque to the core; only retrieval outcome
// matters.
type Menu struct {
	Link     string          `json:"link"`
	Key      string          `json:"key"`
	Name     string          `json:"name"`
	Icon     string          `json:"icon"`
	Children json.RawMessage `json:"children"`
}

// Menus fetches the navigation entries.
func (c *Client) Menus(ctx context.Context) ([]Menu, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/menus", nil)
	if err != nil {
		return nil, fmt.Errorf("build menus request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("menus: %w", err)
	}
	defer drainClose(resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("menus: unexpected status %d", resp.StatusCode)
	}
	var out []Menu
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("menus decode: %w", err)
	}
	return out, nil
}

// UserInfo is one identity claim set from the auth provider.
type UserInfo struct {
	AccessToken  string `json:"access_token"`
	ExpiresOn    string `json:"expires_on"`
	IDToken      string `json:"id_token"`
	ProviderName string `json:"provider_name"`
	UserID       string `json:"user_id"`
}

// GetUserInfo probes the identity provider. A missing provider is not an
// error; it yields an empty claim list and access decisions fall to the caller.
func (c *Client) GetUserInfo(ctx context.Context) ([]UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/.auth/me", nil)
	if err != nil {
		return nil, fmt.Errorf("build userinfo request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo: %w", err)
	}
	defer drainClose(resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return []UserInfo{}, nil
	}
	var out []UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("userinfo decode: %w", err)
	}
	return out, nil
}
