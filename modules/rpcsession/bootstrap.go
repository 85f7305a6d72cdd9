// Copyright ©️ Replit Takeout Contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package rpcsession

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// ConnectionMetadata is the payload returned by the per-repl connection
// metadata endpoint: the authenticated WebSocket URL and the bearer token
// to present when dialing it.
type ConnectionMetadata struct {
	GatewayURL string `json:"gatewayUrl"`
	Token      string `json:"token"`
}

// FetchMetadata POSTs to the per-repl metadata URL with authToken and
// decodes the resulting ConnectionMetadata. Per spec.md §6, a 5xx status
// or a body containing "temporarily unavailable" is retriable; anything
// else aborts.
func FetchMetadata(ctx context.Context, client *http.Client, metadataURL, authToken string) (*ConnectionMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, metadataURL, bytes.NewReader([]byte(`{}`)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectFatal, err)
	}
	req.Header.Set("Authorization", "Bearer "+authToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectTransient, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectTransient, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: metadata fetch returned %d", ErrConnectTransient, resp.StatusCode)
	}
	if strings.Contains(string(body), "temporarily unavailable") {
		return nil, fmt.Errorf("%w: repl temporarily unavailable", ErrConnectTransient)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: metadata fetch returned %d", ErrConnectFatal, resp.StatusCode)
	}
	var meta ConnectionMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectFatal, err)
	}
	return &meta, nil
}

// Connect dials the authenticated WebSocket endpoint and returns a usable
// Session. It does not itself wait for BootStatus{Complete}; call
// WaitBoot for that.
func Connect(ctx context.Context, gatewayURL, token string) (*Session, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, gatewayURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: %v", ErrConnectTransient, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectTransient, err)
	}
	return newSession(conn), nil
}

// ConnectWithRetry dials with exponential backoff, per spec.md §4.3,
// bounded by maxElapsed wall time.
func ConnectWithRetry(ctx context.Context, gatewayURL, token string, baseDelay time.Duration, factor float64, maxElapsed time.Duration) (*Session, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = baseDelay
	bo.Multiplier = factor
	bo.MaxElapsedTime = maxElapsed

	var session *Session
	op := func() error {
		s, err := Connect(ctx, gatewayURL, token)
		if err != nil {
			if isFatal(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		session = s
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return session, nil
}

func isFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrConnectTransient)
}
