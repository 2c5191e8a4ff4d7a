// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package subsonic

import (
	"context"
	"crypto/md5" //nolint:gosec // verifying the protocol's token
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/sonicmirror/internal/config"
	"github.com/tomtom215/sonicmirror/internal/models"
)

const testPassword = "sesame"

// fakeServer routes /rest/<endpoint> to per-endpoint handlers and counts calls.
type fakeServer struct {
	t        *testing.T
	mu       sync.Mutex
	calls    map[string]int
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	return &fakeServer{t: t, calls: map[string]int{}, handlers: map[string]func(http.ResponseWriter, *http.Request){}}
}

func (f *fakeServer) handle(endpoint string, h func(w http.ResponseWriter, r *http.Request)) {
	f.handlers[endpoint] = h
}

func (f *fakeServer) count(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[endpoint]
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	endpoint := strings.TrimPrefix(r.URL.Path, "/rest/")
	f.mu.Lock()
	f.calls[endpoint]++
	f.mu.Unlock()

	q := r.URL.Query()
	sum := md5.Sum([]byte(testPassword + q.Get("s"))) //nolint:gosec // test
	if q.Get("t") != hex.EncodeToString(sum[:]) || q.Get("u") != "alice" || q.Get("f") != "json" {
		writeFailed(w, 40, "Wrong username or password")
		return
	}

	h, ok := f.handlers[endpoint]
	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func writeOK(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	if body != "" {
		body = "," + body
	}
	fmt.Fprintf(w, `{"subsonic-response":{"status":"ok","version":"1.16.1"%s}}`, body)
}

func writeFailed(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"subsonic-response":{"status":"failed","version":"1.16.1","error":{"code":%d,"message":%q}}}`, code, message)
}

func newTestClient(t *testing.T, handler http.Handler, pageSize int) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(config.ServerConfig{
		URL:        server.URL + "/",
		Username:   "alice",
		Password:   testPassword,
		ClientName: "sonicmirror-test",
		APIVersion: "1.16.1",
		Timeout:    5 * time.Second,
		MaxRetries: 2,
	}, config.SyncConfig{PageSize: pageSize, FullRequiredCodes: []int{30, 70}}, nil)
	client.retryBaseDelay = time.Millisecond
	return client, server
}

// collect returns a PageFunc that appends every page.
func collect(pages *[][]models.Entity) PageFunc {
	return func(entities []models.Entity) error {
		*pages = append(*pages, entities)
		return nil
	}
}

func flatten(pages [][]models.Entity) map[string]models.Entity {
	out := map[string]models.Entity{}
	for _, p := range pages {
		for _, e := range p {
			out[e.ID] = e
		}
	}
	return out
}

func checkIntEqual(t *testing.T, name string, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %d, want %d", name, got, want)
	}
}

func TestPing(t *testing.T) {
	fs := newFakeServer(t)
	fs.handle("ping", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("c") != "sonicmirror-test" || r.URL.Query().Get("v") != "1.16.1" {
			writeFailed(w, 10, "missing client params")
			return
		}
		writeOK(w, "")
	})
	client, _ := newTestClient(t, fs, 10)

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestPing_APIError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFailed(w, 40, "Wrong username or password")
	}), 10)

	err := client.Ping(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T (%v)", err, err)
	}
	checkIntEqual(t, "Code", apiErr.Code, 40)
	if IsTransportError(err) {
		t.Error("an API error is not a transport error")
	}
}

func TestPing_TransportError(t *testing.T) {
	client, server := newTestClient(t, http.NotFoundHandler(), 10)
	server.Close()

	err := client.Ping(context.Background())
	if !IsTransportError(err) {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestRateLimitRetry(t *testing.T) {
	var attempts atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeOK(w, "")
	}), 10)

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	checkIntEqual(t, "attempts", int(attempts.Load()), 3)
}

func TestRateLimitExhausted(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}), 10)

	if err := client.Ping(context.Background()); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
}

func TestFetchLibraryFull_Pages(t *testing.T) {
	fs := newFakeServer(t)
	artists := []string{`{"id":"ar-1","name":"A1"}`, `{"id":"ar-2","name":"A2"}`, `{"id":"ar-3","name":"A3"}`}
	albums := []string{`{"id":"al-1","name":"Album","artistId":"ar-1","created":"2026-01-02T03:04:05.000Z"}`}
	songs := []string{
		`{"id":"tr-1","title":"S1","albumId":"al-1","parent":"al-1","userRating":4}`,
		`{"id":"tr-2","title":"S2","albumId":"al-1"}`,
		`{"id":"tr-3","title":"S3","albumId":"al-1","starred":"2026-01-01T00:00:00Z"}`,
		`{"id":"tr-4","title":"S4","albumId":"al-1"}`,
	}
	slice := func(items []string, countParam, offsetParam string, r *http.Request) string {
		count, _ := strconv.Atoi(r.URL.Query().Get(countParam))
		offset, _ := strconv.Atoi(r.URL.Query().Get(offsetParam))
		if offset >= len(items) || count == 0 {
			return ""
		}
		end := offset + count
		if end > len(items) {
			end = len(items)
		}
		return strings.Join(items[offset:end], ",")
	}
	fs.handle("search3", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.URL.Query()["query"]; !ok {
			t.Error("search3 must send the query parameter")
		}
		writeOK(w, fmt.Sprintf(`"searchResult3":{"artist":[%s],"album":[%s],"song":[%s]}`,
			slice(artists, "artistCount", "artistOffset", r),
			slice(albums, "albumCount", "albumOffset", r),
			slice(songs, "songCount", "songOffset", r)))
	})
	fs.handle("getStarred2", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, `"starred2":{"song":[{"id":"tr-3","title":"S3","albumId":"al-1","starred":"2026-01-01T00:00:00Z"}]}`)
	})
	client, _ := newTestClient(t, fs, 2)

	var pages [][]models.Entity
	if err := client.FetchLibraryFull(context.Background(), collect(&pages)); err != nil {
		t.Fatalf("FetchLibraryFull() error = %v", err)
	}

	got := flatten(pages)
	checkIntEqual(t, "distinct entities", len(got), 8)
	checkIntEqual(t, "search3 calls", fs.count("search3"), 3)
	checkIntEqual(t, "getStarred2 calls", fs.count("getStarred2"), 1)

	if got["ar-2"].ParentID != models.RootFolderID || got["ar-2"].Kind != models.KindArtist {
		t.Errorf("artist mapping wrong: %+v", got["ar-2"])
	}
	if got["al-1"].ParentID != "ar-1" || got["al-1"].ChangedAt.IsZero() {
		t.Errorf("album mapping wrong: %+v", got["al-1"])
	}
	if got["tr-1"].ParentID != "al-1" || got["tr-1"].UserRating != 4 {
		t.Errorf("track mapping wrong: %+v", got["tr-1"])
	}
	if !got["tr-3"].Starred {
		t.Error("tr-3 should be starred")
	}
}

func TestFetchLibraryFull_PageErrorAborts(t *testing.T) {
	fs := newFakeServer(t)
	fs.handle("search3", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, `"searchResult3":{"artist":[{"id":"ar-1","name":"A"}]}`)
	})
	client, _ := newTestClient(t, fs, 10)

	storeErr := errors.New("disk full")
	err := client.FetchLibraryFull(context.Background(), func([]models.Entity) error { return storeErr })
	if !errors.Is(err, storeErr) {
		t.Fatalf("expected page error to propagate, got %v", err)
	}
	checkIntEqual(t, "getStarred2 calls", fs.count("getStarred2"), 0)
}

func TestFetchLibraryDelta_FullRequired(t *testing.T) {
	tests := []struct {
		name    string
		handler func(w http.ResponseWriter, r *http.Request)
		want    bool
	}{
		{"lastModified zero", func(w http.ResponseWriter, r *http.Request) {
			writeOK(w, `"indexes":{"lastModified":0}`)
		}, true},
		{"configured code 70", func(w http.ResponseWriter, r *http.Request) {
			writeFailed(w, 70, "not found")
		}, true},
		{"configured code 30", func(w http.ResponseWriter, r *http.Request) {
			writeFailed(w, 30, "incompatible version")
		}, true},
		{"not implemented", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotImplemented)
		}, true},
		{"wrong credentials is not full-required", func(w http.ResponseWriter, r *http.Request) {
			writeFailed(w, 40, "wrong credentials")
		}, false},
		{"server error is not full-required", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFakeServer(t)
			fs.handle("getIndexes", tt.handler)
			client, _ := newTestClient(t, fs, 10)

			err := client.FetchLibraryDelta(context.Background(), time.UnixMilli(1000), collect(new([][]models.Entity)))
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrFullSyncRequired); got != tt.want {
				t.Errorf("errors.Is(ErrFullSyncRequired) = %v, want %v (err: %v)", got, tt.want, err)
			}
		})
	}
}

func TestFetchLibraryDelta_UnchangedStillRefreshesStars(t *testing.T) {
	since := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	fs := newFakeServer(t)
	fs.handle("getIndexes", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ifModifiedSince") != strconv.FormatInt(since.UnixMilli(), 10) {
			t.Errorf("ifModifiedSince = %q", r.URL.Query().Get("ifModifiedSince"))
		}
		writeOK(w, fmt.Sprintf(`"indexes":{"lastModified":%d}`, since.Add(-time.Hour).UnixMilli()))
	})
	fs.handle("getStarred2", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, `"starred2":{"album":[{"id":"al-9","name":"Fav","artistId":"ar-9","starred":"2026-05-02T00:00:00Z"}]}`)
	})
	client, _ := newTestClient(t, fs, 10)

	var pages [][]models.Entity
	if err := client.FetchLibraryDelta(context.Background(), since, collect(&pages)); err != nil {
		t.Fatalf("FetchLibraryDelta() error = %v", err)
	}
	checkIntEqual(t, "getAlbumList2 calls", fs.count("getAlbumList2"), 0)
	checkIntEqual(t, "getArtists calls", fs.count("getArtists"), 0)
	got := flatten(pages)
	checkIntEqual(t, "entities", len(got), 1)
	if !got["al-9"].Starred {
		t.Error("starred album should be delivered")
	}
}

func TestFetchLibraryDelta_ChangedAlbums(t *testing.T) {
	since := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	fs := newFakeServer(t)
	// getIndexes lists music folders, whose IDs differ from the ID3 artist IDs.
	fs.handle("getIndexes", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, fmt.Sprintf(`"indexes":{"lastModified":%d,"index":[{"name":"B","artist":[{"id":"dir-5","name":"Band"}]}]}`,
			since.Add(time.Hour).UnixMilli()))
	})
	fs.handle("getArtists", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, `"artists":{"ignoredArticles":"The","index":[{"name":"B","artist":[{"id":"ar-1","name":"Band","albumCount":2}]}]}`)
	})
	fs.handle("getAlbumList2", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("type") != "newest" {
			t.Errorf("type = %q, want newest", r.URL.Query().Get("type"))
		}
		writeOK(w, `"albumList2":{"album":[
			{"id":"al-new","name":"New","artistId":"ar-1","created":"2026-05-03T00:00:00Z"},
			{"id":"al-old","name":"Old","artistId":"ar-1","created":"2026-04-01T00:00:00Z"}]}`)
	})
	fs.handle("getAlbum", func(w http.ResponseWriter, r *http.Request) {
		if id := r.URL.Query().Get("id"); id != "al-new" {
			t.Errorf("getAlbum for %q, only al-new changed", id)
		}
		writeOK(w, `"album":{"id":"al-new","name":"New","song":[{"id":"tr-1","title":"One","albumId":"al-new"}]}`)
	})
	fs.handle("getStarred2", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, `"starred2":{}`)
	})
	client, _ := newTestClient(t, fs, 10)

	var pages [][]models.Entity
	if err := client.FetchLibraryDelta(context.Background(), since, collect(&pages)); err != nil {
		t.Fatalf("FetchLibraryDelta() error = %v", err)
	}

	got := flatten(pages)
	for _, id := range []string{"ar-1", "al-new", "tr-1"} {
		if _, ok := got[id]; !ok {
			t.Errorf("expected %s in delta", id)
		}
	}
	if _, ok := got["al-old"]; ok {
		t.Error("al-old predates the checkpoint and should not be delivered")
	}
	if _, ok := got["dir-5"]; ok {
		t.Error("folder IDs from getIndexes must not be merged as artists")
	}
	if got["al-new"].ParentID != "ar-1" {
		t.Errorf("al-new parent = %q, want ar-1", got["al-new"].ParentID)
	}
	checkIntEqual(t, "getArtists calls", fs.count("getArtists"), 1)
	checkIntEqual(t, "getAlbumList2 calls", fs.count("getAlbumList2"), 1)
	checkIntEqual(t, "getAlbum calls", fs.count("getAlbum"), 1)
}
