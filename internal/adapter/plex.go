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

// PlexSource polls Plex's /status/sessions endpoint directly. Plex
// returns JSON when asked for it; no geo data is available on this path,
// so location fields degrade to unknown.
type PlexSource struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewPlexSource builds a source for a Plex server.
func NewPlexSource(baseURL, token string) *PlexSource {
	return &PlexSource{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type plexSessions struct {
	MediaContainer struct {
		Metadata []plexMetadata `json:"Metadata"`
	} `json:"MediaContainer"`
}

type plexMetadata struct {
	SessionKey string `json:"sessionKey"`
	ViewOffset int64  `json:"viewOffset"`
	Duration   int64  `json:"duration"`

	User struct {
		Title string `json:"title"`
	} `json:"User"`
	Player struct {
		MachineIdentifier string `json:"machineIdentifier"`
		Platform          string `json:"platform"`
		Product           string `json:"product"`
		Address           string `json:"address"`
		State             string `json:"state"`
	} `json:"Player"`
	Session struct {
		ID        string `json:"id"`
		Bandwidth int    `json:"bandwidth"`
	} `json:"Session"`
	TranscodeSession *struct {
		VideoDecision string `json:"videoDecision"`
	} `json:"TranscodeSession"`
}

// Snapshot returns the currently active sessions.
func (s *PlexSource) Snapshot(ctx context.Context) ([]models.SessionSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/status/sessions", nil)
	if err != nil {
		return nil, fmt.Errorf("build sessions request: %w", err)
	}
	req.Header.Set("X-Plex-Token", s.token)
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

	var payload plexSessions
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}

	metadata := payload.MediaContainer.Metadata
	snapshots := make([]models.SessionSnapshot, 0, len(metadata))
	for i := range metadata {
		pm := &metadata[i]

		snap := models.SessionSnapshot{
			SessionKey:        pm.SessionKey,
			ExternalSessionID: pm.Session.ID,
			Username:          pm.User.Title,
			State:             mapPlexState(pm.Player.State),
			DeviceID:          pm.Player.MachineIdentifier,
			Platform:          pm.Player.Platform,
			Product:           pm.Player.Product,
			IPAddress:         pm.Player.Address,
			Bitrate:           pm.Session.Bandwidth,
			VideoDecision:     "directplay",
		}
		if pm.TranscodeSession != nil && pm.TranscodeSession.VideoDecision != "" {
			snap.VideoDecision = pm.TranscodeSession.VideoDecision
		}
		if pm.ViewOffset > 0 {
			progress := pm.ViewOffset
			snap.ProgressMs = &progress
		}
		if pm.Duration > 0 {
			total := pm.Duration
			snap.TotalDurationMs = &total
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

func mapPlexState(state string) models.SessionState {
	switch state {
	case "paused":
		return models.StatePaused
	case "stopped":
		return models.StateStopped
	default:
		return models.StatePlaying
	}
}
