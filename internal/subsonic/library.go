// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package subsonic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tomtom215/sonicmirror/internal/logging"
	"github.com/tomtom215/sonicmirror/internal/models"
)

// PageFunc receives one page of entities. Returning an error aborts the fetch.
type PageFunc func(entities []models.Entity) error

// pageError marks errors returned by a PageFunc so they are not blamed on the server.
type pageError struct{ err error }

func (e *pageError) Error() string { return e.err.Error() }
func (e *pageError) Unwrap() error { return e.err }

func emit(page PageFunc, entities []models.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	if err := page(entities); err != nil {
		return &pageError{err: err}
	}
	return nil
}

// Ping checks that the server answers and accepts our credentials.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "ping", nil)
	return err
}

// FetchLibraryFull walks the whole library with search3 (empty query), one
// page per call, then delivers the starred set from getStarred2.
func (c *Client) FetchLibraryFull(ctx context.Context, page PageFunc) error {
	var artistOffset, albumOffset, songOffset int
	artistsDone, albumsDone, songsDone := false, false, false

	for !(artistsDone && albumsDone && songsDone) {
		params := url.Values{}
		params.Set("query", "")
		params.Set("artistCount", strconv.Itoa(countFor(artistsDone, c.pageSize)))
		params.Set("artistOffset", strconv.Itoa(artistOffset))
		params.Set("albumCount", strconv.Itoa(countFor(albumsDone, c.pageSize)))
		params.Set("albumOffset", strconv.Itoa(albumOffset))
		params.Set("songCount", strconv.Itoa(countFor(songsDone, c.pageSize)))
		params.Set("songOffset", strconv.Itoa(songOffset))

		resp, err := c.call(ctx, "search3", params)
		if err != nil {
			return fmt.Errorf("search3 at offsets %d/%d/%d: %w", artistOffset, albumOffset, songOffset, err)
		}

		var result searchResult3
		if resp.SearchResult3 != nil {
			result = *resp.SearchResult3
		}

		entities := make([]models.Entity, 0, len(result.Artist)+len(result.Album)+len(result.Song))
		if !artistsDone {
			entities = appendArtists(entities, result.Artist)
			artistOffset += len(result.Artist)
			artistsDone = len(result.Artist) < c.pageSize
		}
		if !albumsDone {
			entities = appendAlbums(entities, result.Album)
			albumOffset += len(result.Album)
			albumsDone = len(result.Album) < c.pageSize
		}
		if !songsDone {
			entities = appendSongs(entities, result.Song)
			songOffset += len(result.Song)
			songsDone = len(result.Song) < c.pageSize
		}

		if err := emit(page, entities); err != nil {
			return err
		}
	}

	logging.Debug().
		Int("artists", artistOffset).
		Int("albums", albumOffset).
		Int("songs", songOffset).
		Msg("Full library listing fetched")

	return c.fetchStarred(ctx, page)
}

func countFor(done bool, pageSize int) int {
	if done {
		return 0
	}
	return pageSize
}

// FetchLibraryDelta delivers entities changed since the given time.
//
// getIndexes?ifModifiedSince decides whether anything changed. Its artist
// entries are music-folder IDs, not ID3 IDs, so only lastModified is read.
// The server signals that it cannot answer incrementally
// (ErrFullSyncRequired) by reporting lastModified == 0, by answering 404/501
// for the endpoint, or by returning one of the configured error codes. When
// the library changed, artists come from getArtists and changed albums are
// found by paging getAlbumList2?type=newest until an album older than since
// appears. Every delta ends with the complete starred set from getStarred2.
func (c *Client) FetchLibraryDelta(ctx context.Context, since time.Time, page PageFunc) error {
	sinceMillis := since.UnixMilli()

	params := url.Values{}
	params.Set("ifModifiedSince", strconv.FormatInt(sinceMillis, 10))
	resp, err := c.call(ctx, "getIndexes", params)
	if err != nil {
		if c.requiresFull(err) {
			return fmt.Errorf("%w: %v", ErrFullSyncRequired, err)
		}
		return fmt.Errorf("getIndexes: %w", err)
	}

	var lastModified int64
	if resp.Indexes != nil {
		lastModified = resp.Indexes.LastModified
	}
	if lastModified == 0 {
		return fmt.Errorf("%w: server reports no lastModified", ErrFullSyncRequired)
	}

	if lastModified > sinceMillis {
		if err := c.fetchArtists(ctx, page); err != nil {
			return err
		}
		if err := c.fetchNewAlbums(ctx, since, page); err != nil {
			return err
		}
	} else {
		logging.Debug().Int64("last_modified", lastModified).Msg("Library unchanged since checkpoint")
	}

	return c.fetchStarred(ctx, page)
}

func (c *Client) requiresFull(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return c.fullRequiredCodes[apiErr.Code]
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusNotFound || statusErr.StatusCode == http.StatusNotImplemented
	}
	return false
}

// fetchArtists delivers the ID3 artist list.
func (c *Client) fetchArtists(ctx context.Context, page PageFunc) error {
	resp, err := c.call(ctx, "getArtists", nil)
	if err != nil {
		return fmt.Errorf("getArtists: %w", err)
	}
	if resp.Artists == nil {
		return nil
	}
	var artists []models.Entity
	for _, idx := range resp.Artists.Index {
		artists = appendArtists(artists, idx.Artist)
	}
	return emit(page, artists)
}

// fetchNewAlbums pages the newest-first album list and fetches the tracks of
// every album created after since.
func (c *Client) fetchNewAlbums(ctx context.Context, since time.Time, page PageFunc) error {
	for offset := 0; ; offset += c.pageSize {
		params := url.Values{}
		params.Set("type", "newest")
		params.Set("size", strconv.Itoa(c.pageSize))
		params.Set("offset", strconv.Itoa(offset))

		resp, err := c.call(ctx, "getAlbumList2", params)
		if err != nil {
			return fmt.Errorf("getAlbumList2 at offset %d: %w", offset, err)
		}

		var albums []albumID3
		if resp.AlbumList2 != nil {
			albums = resp.AlbumList2.Album
		}

		changed := make([]albumID3, 0, len(albums))
		reachedOld := false
		for _, a := range albums {
			if !parseTime(a.Created).After(since) {
				reachedOld = true
				break
			}
			changed = append(changed, a)
		}

		if err := emit(page, appendAlbums(nil, changed)); err != nil {
			return err
		}
		for _, a := range changed {
			if err := c.fetchAlbumTracks(ctx, a.ID, page); err != nil {
				return err
			}
		}

		if reachedOld || len(albums) < c.pageSize {
			return nil
		}
	}
}

func (c *Client) fetchAlbumTracks(ctx context.Context, albumID string, page PageFunc) error {
	params := url.Values{}
	params.Set("id", albumID)
	resp, err := c.call(ctx, "getAlbum", params)
	if err != nil {
		return fmt.Errorf("getAlbum %s: %w", albumID, err)
	}
	if resp.Album == nil {
		return nil
	}
	return emit(page, appendSongs(nil, resp.Album.Song))
}

func (c *Client) fetchStarred(ctx context.Context, page PageFunc) error {
	resp, err := c.call(ctx, "getStarred2", nil)
	if err != nil {
		return fmt.Errorf("getStarred2: %w", err)
	}
	if resp.Starred2 == nil {
		return nil
	}
	s := resp.Starred2
	entities := make([]models.Entity, 0, len(s.Artist)+len(s.Album)+len(s.Song))
	entities = appendArtists(entities, s.Artist)
	entities = appendAlbums(entities, s.Album)
	entities = appendSongs(entities, s.Song)
	return emit(page, entities)
}
