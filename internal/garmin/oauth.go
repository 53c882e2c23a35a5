// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

package garmin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dghubble/oauth1"
	"github.com/goccy/go-json"
)

// Token exchange endpoints, relative to the Connect API base.
const (
	preauthorizedPath  = "/oauth-service/oauth/preauthorized"
	oauth2ExchangePath = "/oauth-service/oauth/exchange/user/2.0"
)

// consumerCredentials is the fixed OAuth consumer key pair Garmin's mobile
// app uses. It is published at a well-known URL and cached after the first
// successful fetch; a failed fetch is retried by the next handshake rather
// than poisoning the cache for the process lifetime.
type consumerCredentials struct {
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
}

// consumerCreds returns the cached OAuth consumer credentials, fetching them
// if no successful fetch has happened yet.
func (c *Client) consumerCreds(ctx context.Context) (consumerCredentials, error) {
	c.consumerMu.Lock()
	defer c.consumerMu.Unlock()

	if c.consumer != nil {
		return *c.consumer, nil
	}

	creds, err := c.fetchConsumerCreds(ctx)
	if err != nil {
		return consumerCredentials{}, err
	}
	c.consumer = &creds
	return creds, nil
}

func (c *Client) fetchConsumerCreds(ctx context.Context) (consumerCredentials, error) {
	var creds consumerCredentials

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ConsumerURL, http.NoBody)
	if err != nil {
		return creds, err
	}

	resp, err := c.gw.Do(req)
	if err != nil {
		return creds, fmt.Errorf("fetch consumer credentials: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return creds, fmt.Errorf("fetch consumer credentials: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return creds, fmt.Errorf("decode consumer credentials: %w", err)
	}
	if creds.ConsumerKey == "" || creds.ConsumerSecret == "" {
		return creds, fmt.Errorf("consumer credentials response missing key or secret")
	}
	return creds, nil
}

// exchangeTicket exchanges the service ticket for the first-generation OAuth1
// token pair via a signed request.
func (c *Client) exchangeTicket(ctx context.Context, userAgent, ticket string) (*OAuth1Token, error) {
	consumer, err := c.consumerCreds(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("ticket", ticket)
	params.Set("login-url", c.cfg.SSOBaseURL+embedPath)
	params.Set("accepts-mfa-tokens", "true")
	reqURL := c.cfg.APIBaseURL + preauthorizedPath + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	// No token yet: the request is signed with consumer credentials only.
	body, err := c.doSigned(ctx, consumer, oauth1.NewToken("", ""), req)
	if err != nil {
		return nil, fmt.Errorf("oauth1 preauthorized exchange: %w", err)
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse oauth1 response: %w", err)
	}
	token := values.Get("oauth_token")
	secret := values.Get("oauth_token_secret")
	if token == "" || secret == "" {
		return nil, fmt.Errorf("oauth1 response missing token or secret")
	}

	return &OAuth1Token{Token: token, Secret: secret, IssuedAt: time.Now().UTC()}, nil
}

// oauth2Response is the wire shape of the second-generation exchange.
type oauth2Response struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// exchangeOAuth1 exchanges the first-generation token pair for the OAuth2
// bearer token used by all subsequent API calls.
func (c *Client) exchangeOAuth1(ctx context.Context, userAgent string, t *OAuth1Token) (*OAuth2Token, error) {
	consumer, err := c.consumerCreds(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBaseURL+oauth2ExchangePath, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.doSigned(ctx, consumer, oauth1.NewToken(t.Token, t.Secret), req)
	if err != nil {
		return nil, fmt.Errorf("oauth2 exchange: %w", err)
	}

	var wire oauth2Response
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decode oauth2 response: %w", err)
	}
	if wire.AccessToken == "" {
		return nil, fmt.Errorf("oauth2 response missing access token")
	}

	now := time.Now().UTC()
	return &OAuth2Token{
		AccessToken:  wire.AccessToken,
		TokenType:    wire.TokenType,
		RefreshToken: wire.RefreshToken,
		IssuedAt:     now,
		ExpiresAt:    now.Add(time.Duration(wire.ExpiresIn) * time.Second),
	}, nil
}

// doSigned executes one OAuth1-signed request and returns the response body.
// Token exchange is part of the handshake, so there are no retries here.
func (c *Client) doSigned(ctx context.Context, consumer consumerCredentials, token *oauth1.Token, req *http.Request) ([]byte, error) {
	oauthConfig := oauth1.NewConfig(consumer.ConsumerKey, consumer.ConsumerSecret)
	ctx = context.WithValue(ctx, oauth1.HTTPClient, c.gw.Client())

	// The signing client built by oauth1 has no Timeout field of its own;
	// bound the call through the context instead.
	ctx, cancel := context.WithTimeout(ctx, c.gw.Client().Timeout)
	defer cancel()
	req = req.WithContext(ctx)

	resp, err := oauthConfig.Client(ctx, token).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBodySize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
