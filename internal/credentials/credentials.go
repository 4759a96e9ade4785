// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package credentials exchanges OAuth client credentials for bearer tokens.
// Both the language-model gateway and the workflow service authenticate this
// way; a missing token is reported as ErrNoCredential so callers can fail
// closed.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrNoCredential is returned when no bearer token could be obtained.
var ErrNoCredential = errors.New("no credential")

// Config identifies an OAuth client-credentials grant.
type Config struct {
	TokenURL     string `yaml:"token_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// Configured reports whether every field required for the grant is set.
func (c Config) Configured() bool {
	return c.TokenURL != "" && c.ClientID != "" && c.ClientSecret != ""
}

// TokenSource returns a caching token source for the grant, or nil when the
// grant is not configured. The client id and secret travel in the form body.
func (c Config) TokenSource(client *http.Client) oauth2.TokenSource {
	if !c.Configured() {
		return nil
	}

	cc := &clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	ctx := context.Background()
	if client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	}
	return cc.TokenSource(ctx)
}

// Bearer fetches an access token from ts. Every failure, including a nil
// source or a response without access_token, wraps ErrNoCredential.
func Bearer(ts oauth2.TokenSource) (string, error) {
	if ts == nil {
		return "", fmt.Errorf("%w: token source not configured", ErrNoCredential)
	}

	tok, err := ts.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCredential, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrNoCredential)
	}
	return tok.AccessToken, nil
}
