// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package adapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/models"
)

// ticksPerMs converts Jellyfin/Emby ticks (100ns units) to milliseconds.
const ticksPerMs = 10_000

// JellyfinSource polls the /Sessions endpoint of a Jellyfin or Emby
// server. Both speak the same session API.
type JellyfinSource struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewJellyfinSource builds a source for a Jellyfin or Emby server.
func NewJellyfinSource(baseURL, apiKey string) *JellyfinSource {
	return &JellyfinSource{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type jellyfinSession struct {
	ID                 string `json:"Id"`
	Client             string `json:"Client"`
	DeviceID           string `json:"DeviceId"`
	ApplicationVersion string `json:"ApplicationVersion"`
	UserName           string `json:"UserName"`
	RemoteEndPoint     string `json:"RemoteEndPoint"`

	NowPlayingItem *struct {
		RunTimeTicks int64 `json:"RunTimeTicks"`
	} `json:"NowPlayingItem"`
	PlayState *struct {
		PositionTicks int64  `json:"PositionTicks"`
		IsPaused      bool   `json:"IsPaused"`
		PlayMethod    string `json:"PlayMethod"`
	} `json:"PlayState"`
	TranscodingInfo *struct {
		Bitrate int `json:"Bitrate"`
	} `json:"TranscodingInfo"`
}

// Snapshot returns the sessions with active playback.
func (s *JellyfinSource) Snapshot(ctx context.Context) ([]models.SessionSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/Sessions", nil)
	if err != nil {
		return nil, fmt.Errorf("build sessions request: %w", err)
	}
	req.Header.Set("X-Emby-Token", s.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sessions request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("sessions returned status %d: %s", resp.StatusCode, string(body))
	}

	var sessions []jellyfinSession
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}

	snapshots := make([]models.SessionSnapshot, 0, len(sessions))
	for i := range sessions {
		js := &sessions[i]
		// Idle sessions (connected clients with nothing playing) are not
		// playback.
		if js.NowPlayingItem == nil {
			continue
		}

		snap := models.SessionSnapshot{
			SessionKey: js.ID,
			Username:   js.UserName,
			State:      models.StatePlaying,
			DeviceID:   js.DeviceID,
			Product:    js.Client,
			IPAddress:  stripPort(js.RemoteEndPoint),
		}
		if js.NowPlayingItem.RunTimeTicks > 0 {
			total := js.NowPlayingItem.RunTimeTicks / ticksPerMs
			snap.TotalDurationMs = &total
		}
		if js.PlayState != nil {
			if js.PlayState.IsPaused {
				snap.State = models.StatePaused
			}
			progress := js.PlayState.PositionTicks / ticksPerMs
			snap.ProgressMs = &progress
			snap.VideoDecision = strings.ToLower(js.PlayState.PlayMethod)
		}
		if js.TranscodingInfo != nil {
			snap.Bitrate = js.TranscodingInfo.Bitrate
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

// stripPort removes the port from a host:port endpoint, tolerating bare
// hosts and IPv6 literals.
func stripPort(endpoint string) string {
	if endpoint == "" {
		return ""
	}
	if strings.HasPrefix(endpoint, "[") {
		if end := strings.Index(endpoint, "]"); end > 0 {
			return endpoint[1:end]
		}
		return endpoint
	}
	if i := strings.LastIndex(endpoint, ":"); i > 0 && !strings.Contains(endpoint[:i], ":") {
		return endpoint[:i]
	}
	return endpoint
}
