// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

// Package models defines the data structures shared by the mirror, the sync
// engine, the offline browser and the HTTP surface.
package models

import "time"

// RootFolderID is the parent of every artist. It is the bottom frame of the
// offline browse stack.
const RootFolderID = "root"

// EntityKind identifies the level of a library node.
type EntityKind string

const (
	KindArtist EntityKind = "artist"
	KindAlbum  EntityKind = "album"
	KindTrack  EntityKind = "track"
)

// Entity is a library node as last reported by the server. The hierarchy is
// root -> artist -> album -> track, linked through ParentID.
type Entity struct {
	ID         string     `json:"id" validate:"required,max=512,entityid"`
	Kind       EntityKind `json:"kind" validate:"required,oneof=artist album track"`
	ParentID   string     `json:"parent_id" validate:"required,max=512,entityid,nefield=ID"`
	Title      string     `json:"title" validate:"required"`
	Artist     string     `json:"artist,omitempty"`
	Album      string     `json:"album,omitempty"`
	Track      int        `json:"track,omitempty" validate:"min=0"`
	Disc       int        `json:"disc,omitempty" validate:"min=0"`
	Year       int        `json:"year,omitempty" validate:"min=0,max=9999"`
	Genre      string     `json:"genre,omitempty"`
	Duration   int        `json:"duration,omitempty" validate:"min=0"` // seconds
	Size       int64      `json:"size,omitempty" validate:"min=0"`
	Suffix     string     `json:"suffix,omitempty"`
	CoverArt   string     `json:"cover_art,omitempty"`
	Starred    bool       `json:"starred"`
	UserRating int        `json:"user_rating,omitempty" validate:"min=0,max=5"`
	ChangedAt  time.Time  `json:"changed_at,omitempty"`
}

// CachedItem is a mirror record: server metadata plus local-only state.
// Downloaded and LocalPath are set only by explicit user actions and are
// never overwritten by a server merge.
type CachedItem struct {
	Entity
	Downloaded bool   `json:"downloaded"`
	LocalPath  string `json:"local_path,omitempty"`
	// UpdatedAt is the local time of the last merge, epoch millis.
	UpdatedAt int64 `json:"updated_at"`
}

// IsContainer reports whether the item can be entered in the browser.
func (c CachedItem) IsContainer() bool {
	return c.Kind == KindArtist || c.Kind == KindAlbum
}
