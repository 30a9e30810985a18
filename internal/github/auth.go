package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type TokenInfo struct {
	Login  string
	Scopes []string
	// ScopesKnown is false for fine-grained tokens, which send no
	// X-OAuth-Scopes header.
	ScopesKnown bool
}

// ValidateToken checks the token against GET /user and requires the
// notifications or repo scope on classic tokens.
func (c *Client) ValidateToken(ctx context.Context) (*TokenInfo, error) {
	resp, err := c.Get(ctx, "/user", nil)
	if err != nil {
		if IsKind(err, KindFatal) {
			// 403 on /user means the token is not allowed to act at all
			return nil, &APIError{Kind: KindAuthentication, Message: "token access denied", Err: err}
		}
		return nil, err
	}

	var user struct {
		Login string `json:"login"`
	}
	if err := json.Unmarshal(resp.Body, &user); err != nil {
		return nil, fmt.Errorf("decoding /user: %w", err)
	}

	info := &TokenInfo{Login: user.Login}
	if raw, ok := resp.Header["X-Oauth-Scopes"]; ok {
		info.ScopesKnown = true
		for _, s := range strings.Split(strings.Join(raw, ","), ",") {
			if s = strings.TrimSpace(s); s != "" {
				info.Scopes = append(info.Scopes, s)
			}
		}
		if !hasAnyScope(info.Scopes, "notifications", "repo") {
			return nil, &APIError{
				Kind:       KindAuthentication,
				StatusCode: resp.StatusCode,
				Message:    "token needs the 'notifications' or 'repo' scope",
				Attempts:   1,
			}
		}
	}

	c.logger.Info("github token validated", "login", info.Login, "scopes", strings.Join(info.Scopes, ","))
	return info, nil
}

func hasAnyScope(scopes []string, want ...string) bool {
	for _, s := range scopes {
		for _, w := range want {
			if s == w {
				return true
			}
		}
	}
	return false
}

// MaskToken keeps the first and last four characters of a token.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
