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
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/models"
)

// TautulliSource polls Tautulli's get_activity endpoint. Useful for Plex
// deployments already running Tautulli, which enriches sessions with geo
// data the bare Plex API lacks.
type TautulliSource struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewTautulliSource builds a source for a Tautulli instance.
func NewTautulliSource(baseURL, apiKey string) *TautulliSource {
	return &TautulliSource{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type tautulliActivity struct {
	Response struct {
		Result  string `json:"result"`
		Message string `json:"message"`
		Data    struct {
			Sessions []tautulliSession `json:"sessions"`
		} `json:"data"`
	} `json:"response"`
}

type tautulliSession struct {
	SessionKey string `json:"session_key"`
	SessionID  string `json:"session_id"`
	User       string `json:"user"`

	State      string      `json:"state"`
	ViewOffset flexibleInt `json:"view_offset"`
	Duration   flexibleInt `json:"duration"`

	MachineID string `json:"machine_id"`
	Platform  string `json:"platform"`
	Player    string `json:"player"`
	IPAddress string `json:"ip_address"`

	Location struct {
		City      string  `json:"city"`
		Region    string  `json:"region"`
		Country   string  `json:"country_code"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`

	VideoDecision string      `json:"video_decision"`
	StreamBitrate flexibleInt `json:"stream_bitrate"`
}

// flexibleInt tolerates Tautulli's habit of returning numbers as either
// JSON numbers or strings.
type flexibleInt int64

func (f *flexibleInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	var v int64
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		// Malformed numerics degrade to zero rather than failing the
		// whole snapshot.
		*f = 0
		return nil
	}
	*f = flexibleInt(v)
	return nil
}

// Snapshot returns the currently active sessions.
func (s *TautulliSource) Snapshot(ctx context.Context) ([]models.SessionSnapshot, error) {
	endpoint := fmt.Sprintf("%s/api/v2?apikey=%s&cmd=get_activity", s.baseURL, url.QueryEscape(s.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build activity request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("activity request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("activity returned status %d: %s", resp.StatusCode, string(body))
	}

	var activity tautulliActivity
	if err := json.NewDecoder(resp.Body).Decode(&activity); err != nil {
		return nil, fmt.Errorf("decode activity: %w", err)
	}
	if activity.Response.Result != "success" {
		return nil, fmt.Errorf("activity result %q: %s", activity.Response.Result, activity.Response.Message)
	}

	sessions := activity.Response.Data.Sessions
	snapshots := make([]models.SessionSnapshot, 0, len(sessions))
	for i := range sessions {
		ts := &sessions[i]

		snap := models.SessionSnapshot{
			SessionKey:        ts.SessionKey,
			ExternalSessionID: ts.SessionID,
			Username:          ts.User,
			State:             mapTautulliState(ts.State),
			DeviceID:          ts.MachineID,
			Platform:          ts.Platform,
			Product:           ts.Player,
			IPAddress:         ts.IPAddress,
			City:              ts.Location.City,
			Region:            ts.Location.Region,
			CountryCode:       ts.Location.Country,
			Latitude:          ts.Location.Latitude,
			Longitude:         ts.Location.Longitude,
			VideoDecision:     ts.VideoDecision,
			Bitrate:           int(ts.StreamBitrate),
		}
		if ts.ViewOffset > 0 {
			progress := int64(ts.ViewOffset)
			snap.ProgressMs = &progress
		}
		if ts.Duration > 0 {
			total := int64(ts.Duration)
			snap.TotalDurationMs = &total
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

// mapTautulliState maps Tautulli playback states; "buffering" counts as
// playing.
func mapTautulliState(state string) models.SessionState {
	switch state {
	case "paused":
		return models.StatePaused
	case "stopped":
		return models.StateStopped
	default:
		return models.StatePlaying
	}
}
