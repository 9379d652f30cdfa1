// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package adapter

import "fmt"

// NewSource returns a session source for the given media server type.
// Emby shares Jellyfin's session API.
func NewSource(serverType, baseURL, token string) (Source, error) {
	switch serverType {
	case "jellyfin", "emby":
		return NewJellyfinSource(baseURL, token), nil
	case "plex":
		return NewPlexSource(baseURL, token), nil
	case "tautulli":
		return NewTautulliSource(baseURL, token), nil
	default:
		return nil, fmt.Errorf("unsupported media server type %q", serverType)
	}
}
