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

package trigger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/ecotrace/ingestion/internal/models"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		started bool
		wantID  string
		wantErr bool
	}{
		{name: "id and startedAt", body: `{"id":"wf-1","startedAt":"2025-01-01T00:00:00Z"}`, started: true, wantID: "wf-1"},
		{name: "numeric id", body: `{"id":123,"startedAt":"2025-01-01T00:00:00Z"}`, started: true, wantID: "123"},
		{name: "zero id", body: `{"id":0,"startedAt":"2025-01-01T00:00:00Z"}`, started: false},
		{name: "null id", body: `{"id":null,"startedAt":"2025-01-01T00:00:00Z"}`, started: false},
		{name: "empty startedAt", body: `{"id":"wf-1","startedAt":""}`, started: false},
		{name: "error object", body: `{"error":"bad request"}`, started: false},
		{name: "missing startedAt", body: `{"id":"wf-1"}`, started: false},
		{name: "not json", body: `<html>gateway timeout</html>`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Evaluate([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.started, res.Started)
			assert.Equal(t, tt.wantID, res.InstanceID)
		})
	}
}

func staticTokens() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"})
}

func TestStartSendsRecordAsContext(t *testing.T) {
	var calls int32
	var got startRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/workflow/rest/v1/workflow-instances", r.URL.Path)
		assert.Equal(t, "env-1", r.URL.Query().Get("environmentId"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "key-1", r.Header.Get("api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Write([]byte(`{"id":"wf-9","startedAt":"2025-03-01T10:00:00Z","status":"RUNNING"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{
		APIURL:        srv.URL,
		EnvironmentID: "env-1",
		DefinitionID:  "def-1",
		APIKey:        "key-1",
	}, staticTokens())

	rec := models.CanonicalRecord{InvoiceNb: "INV-1", Energykhw: "1842", Unit: "kWh"}
	res := c.Start(context.Background(), rec)

	assert.True(t, res.Started)
	assert.Equal(t, ReasonStarted, res.Reason)
	assert.Equal(t, "wf-9", res.InstanceID)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "def-1", got.DefinitionID)
	assert.Equal(t, rec, got.Context)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestStartIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"definition not found"}}`))
	}))
	defer srv.Close()

	res := NewClient(Config{APIURL: srv.URL}, staticTokens()).Start(context.Background(), models.CanonicalRecord{})

	assert.False(t, res.Started)
	assert.Equal(t, ReasonRejected, res.Reason)
	assert.Equal(t, MaxAttempts, res.Attempts)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestStartFailureReasons(t *testing.T) {
	res := NewClient(Config{APIURL: "http://unused"}, nil).Start(context.Background(), models.CanonicalRecord{})
	assert.Equal(t, ReasonNoCredential, res.Reason)
	assert.False(t, res.Started)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	res = NewClient(Config{APIURL: srv.URL}, staticTokens()).Start(context.Background(), models.CanonicalRecord{})
	assert.Equal(t, ReasonDecodeError, res.Reason)

	srv.Close()
	res = NewClient(Config{APIURL: srv.URL}, staticTokens()).Start(context.Background(), models.CanonicalRecord{})
	assert.Equal(t, ReasonTransportError, res.Reason)
	assert.Equal(t, 1, res.Attempts)
}
