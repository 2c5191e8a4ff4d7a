// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package subsonic

import (
	"time"

	"github.com/tomtom215/sonicmirror/internal/models"
)

// envelope is the JSON wrapper every endpoint returns.
type envelope struct {
	Response response `json:"subsonic-response"`
}

type response struct {
	Status        string         `json:"status"`
	Version       string         `json:"version"`
	Error         *errorBody     `json:"error,omitempty"`
	SearchResult3 *searchResult3 `json:"searchResult3,omitempty"`
	Indexes       *indexes       `json:"indexes,omitempty"`
	Artists       *indexes       `json:"artists,omitempty"`
	AlbumList2    *albumList2    `json:"albumList2,omitempty"`
	Album         *albumID3      `json:"album,omitempty"`
	Starred2      *starred2      `json:"starred2,omitempty"`
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type searchResult3 struct {
	Artist []artistID3 `json:"artist"`
	Album  []albumID3  `json:"album"`
	Song   []child     `json:"song"`
}

// indexes is shared by getIndexes (folder based, only lastModified is used)
// and getArtists (ID3).
type indexes struct {
	LastModified int64   `json:"lastModified"`
	Index        []index `json:"index"`
}

type index struct {
	Name   string      `json:"name"`
	Artist []artistID3 `json:"artist"`
}

type albumList2 struct {
	Album []albumID3 `json:"album"`
}

type starred2 struct {
	Artist []artistID3 `json:"artist"`
	Album  []albumID3  `json:"album"`
	Song   []child     `json:"song"`
}

type artistID3 struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CoverArt   string `json:"coverArt"`
	AlbumCount int    `json:"albumCount"`
	Starred    string `json:"starred"`
	UserRating int    `json:"userRating"`
}

type albumID3 struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Artist     string  `json:"artist"`
	ArtistID   string  `json:"artistId"`
	CoverArt   string  `json:"coverArt"`
	SongCount  int     `json:"songCount"`
	Duration   int     `json:"duration"`
	Year       int     `json:"year"`
	Genre      string  `json:"genre"`
	Created    string  `json:"created"`
	Starred    string  `json:"starred"`
	UserRating int     `json:"userRating"`
	Song       []child `json:"song"`
}

type child struct {
	ID         string `json:"id"`
	Parent     string `json:"parent"`
	Title      string `json:"title"`
	Album      string `json:"album"`
	Artist     string `json:"artist"`
	AlbumID    string `json:"albumId"`
	ArtistID   string `json:"artistId"`
	Track      int    `json:"track"`
	DiscNumber int    `json:"discNumber"`
	Year       int    `json:"year"`
	Genre      string `json:"genre"`
	CoverArt   string `json:"coverArt"`
	Size       int64  `json:"size"`
	Suffix     string `json:"suffix"`
	Duration   int    `json:"duration"`
	Created    string `json:"created"`
	Starred    string `json:"starred"`
	UserRating int    `json:"userRating"`
	IsDir      bool   `json:"isDir"`
}

// parseTime accepts the timestamp shapes servers emit in "created".
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func orDefault(id, fallback string) string {
	if id == "" {
		return fallback
	}
	return id
}

func (a artistID3) toEntity() models.Entity {
	return models.Entity{
		ID:         a.ID,
		Kind:       models.KindArtist,
		ParentID:   models.RootFolderID,
		Title:      a.Name,
		CoverArt:   a.CoverArt,
		Starred:    a.Starred != "",
		UserRating: a.UserRating,
	}
}

func (a albumID3) toEntity() models.Entity {
	return models.Entity{
		ID:         a.ID,
		Kind:       models.KindAlbum,
		ParentID:   orDefault(a.ArtistID, models.RootFolderID),
		Title:      a.Name,
		Artist:     a.Artist,
		Year:       a.Year,
		Genre:      a.Genre,
		Duration:   a.Duration,
		CoverArt:   a.CoverArt,
		Starred:    a.Starred != "",
		UserRating: a.UserRating,
		ChangedAt:  parseTime(a.Created),
	}
}

func (c child) toEntity() models.Entity {
	return models.Entity{
		ID:         c.ID,
		Kind:       models.KindTrack,
		ParentID:   orDefault(c.AlbumID, c.Parent),
		Title:      c.Title,
		Artist:     c.Artist,
		Album:      c.Album,
		Track:      c.Track,
		Disc:       c.DiscNumber,
		Year:       c.Year,
		Genre:      c.Genre,
		Duration:   c.Duration,
		Size:       c.Size,
		Suffix:     c.Suffix,
		CoverArt:   c.CoverArt,
		Starred:    c.Starred != "",
		UserRating: c.UserRating,
		ChangedAt:  parseTime(c.Created),
	}
}

func appendArtists(dst []models.Entity, src []artistID3) []models.Entity {
	for _, a := range src {
		dst = append(dst, a.toEntity())
	}
	return dst
}

func appendAlbums(dst []models.Entity, src []albumID3) []models.Entity {
	for _, a := range src {
		dst = append(dst, a.toEntity())
	}
	return dst
}

func appendSongs(dst []models.Entity, src []child) []models.Entity {
	for _, s := range src {
		if s.IsDir {
			continue
		}
		dst = append(dst, s.toEntity())
	}
	return dst
}
