// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Context page tags sent with every request so the backend can shape its
// prompt for the page the chat was opened from.
const (
	PageDashboard   = "dashboard"
	PageVehicles    = "vehicles"
	PageDrivers     = "drivers"
	PageRoutes      = "routes"
	PageStops       = "stops"
	PagePaths       = "paths"
	PageTrips       = "trips"
	PageDeployments = "deployments"
	PageManage      = "manage"
	PageUnknown     = "unknown"
)

var pagesBySegment = map[string]string{
	"":            PageDashboard,
	"dashboard":   PageDashboard,
	"vehicles":    PageVehicles,
	"drivers":     PageDrivers,
	"routes":      PageRoutes,
	"stops":       PageStops,
	"paths":       PagePaths,
	"trips":       PageTrips,
	"deployments": PageDeployments,
	"manage":      PageManage,
}

// ContextPageFromPath maps a navigation path such as "/vehicles/12?tab=x" to
// its context tag. Only the first segment matters; unknown paths map to
// PageUnknown.
func ContextPageFromPath(path string) string {
	if u, err := url.Parse(path); err == nil {
		path = u.Path
	}
	path = strings.Trim(strings.TrimSpace(path), "/")
	segment, _, _ := strings.Cut(path, "/")

	if page, ok := pagesBySegment[strings.ToLower(segment)]; ok {
		return page
	}
	return PageUnknown
}

// Session holds the identifiers attached to every outgoing request. Both are
// fixed when the session is created.
type Session struct {
	id          string
	contextPage string
}

// NewSession creates a session with a fresh id for the page at path.
func NewSession(path string) Session {
	return Session{
		id:          uuid.New().String(),
		contextPage: ContextPageFromPath(path),
	}
}

// NewSessionWithID creates a session with a caller-chosen id and an explicit
// context tag.
func NewSessionWithID(id, contextPage string) Session {
	if id == "" {
		id = uuid.New().String()
	}
	if contextPage == "" {
		contextPage = PageUnknown
	}
	return Session{id: id, contextPage: contextPage}
}

// ID returns the session id.
func (s Session) ID() string { return s.id }

// ContextPage returns the context tag.
func (s Session) ContextPage() string { return s.contextPage }
