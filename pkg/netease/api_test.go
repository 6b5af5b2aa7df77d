package netease

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts Options) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts.BaseURL = server.URL
	if opts.Cookie == "" {
		opts.Cookie = "MUSIC_U=test"
	}
	return NewClient(opts)
}

func TestSearchPaging(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/search/get/web", r.URL.Path)
		require.Equal(t, "晴天", r.URL.Query().Get("s"))
		require.Equal(t, "10", r.URL.Query().Get("limit"))
		require.Equal(t, "20", r.URL.Query().Get("offset"))
		require.Equal(t, "MUSIC_U=test", r.Header.Get("Cookie"))
		w.Write([]byte(`{"code":200,"result":{"songCount":2,"songs":[
			{"id":186016,"name":"晴天","artists":[{"name":"周杰伦"}],"album":{"name":"叶惠美"},"duration":269000},
			{"id":42,"name":"晴天 (Live)","artists":[{"name":"A"},{"name":"B"}],"album":{"name":"Live"},"duration":0}
		]}}`))
	}, Options{})

	songs, err := client.Search(context.Background(), "晴天", 10, 20)
	require.NoError(t, err)
	require.Len(t, songs, 2)
	require.Equal(t, "186016", songs[0].ID)
	require.Equal(t, "晴天 - 周杰伦", songs[0].Description())
	require.Equal(t, 269*time.Second, songs[0].Duration)
	require.Equal(t, "晴天 (Live) - A, B", songs[1].Description())

	_, err = client.Search(context.Background(), "  ", 10, 0)
	require.Error(t, err)
}

func TestSearchSongBestMatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"songs":[
			{"id":1,"name":"Yellow","artists":[{"name":"Someone Else"}]},
			{"id":2,"name":"Yellow","artists":[{"name":"Coldplay"}]}
		]}}`))
	}, Options{})

	id, err := client.SearchSong(context.Background(), "Yellow", "coldplay")
	require.NoError(t, err)
	require.Equal(t, "2", id)

	id, err = client.SearchSong(context.Background(), "Yellow", "nobody")
	require.NoError(t, err)
	require.Equal(t, "1", id)

	_, err = client.SearchSong(context.Background(), "Blue", "nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetSongURL(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/song/enhance/player/url", r.URL.Path)
		require.Equal(t, "320000", r.URL.Query().Get("br"))
		switch r.URL.Query().Get("ids") {
		case "[7]":
			w.Write([]byte(`{"code":200,"data":[{"id":7,"url":"http://cdn/7.mp3","br":320000}]}`))
		default:
			w.Write([]byte(`{"code":200,"data":[{"id":8,"url":null,"code":404}]}`))
		}
	}, Options{})

	u, err := client.StreamURL(context.Background(), "7")
	require.NoError(t, err)
	require.Equal(t, "http://cdn/7.mp3", u)

	_, err = client.GetSongURL(context.Background(), "8")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestSongDetail(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/song/detail/", r.URL.Path)
		if r.URL.Query().Get("id") != "5" {
			w.Write([]byte(`{"code":200,"songs":[]}`))
			return
		}
		w.Write([]byte(`{"code":200,"songs":[{"id":5,"name":"Song","artists":[{"name":"Artist"}],"album":{"name":"Album","picUrl":"http://img/5.jpg"},"duration":180500}]}`))
	}, Options{})

	song, err := client.SongDetail(context.Background(), "5")
	require.NoError(t, err)
	require.Equal(t, "Song", song.Name)
	require.Equal(t, []string{"Artist"}, song.Artists)
	require.Equal(t, "http://img/5.jpg", song.CoverURL)
	require.Equal(t, 180500*time.Millisecond, song.Duration)

	_, err = client.SongDetail(context.Background(), "6")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetLyrics(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/song/lyric", r.URL.Path)
		if r.URL.Query().Get("id") == "0" {
			w.Write([]byte(`{"code":200,"lrc":{"lyric":""}}`))
			return
		}
		w.Write([]byte(`{"code":200,"lrc":{"lyric":"[00:01.00]hello\n[00:03.00]world"},"tlyric":{"lyric":"[00:01.00]你好"}}`))
	}

	plain := newTestClient(t, handler, Options{})
	raw, err := plain.GetLyrics(context.Background(), "1")
	require.NoError(t, err)
	require.Equal(t, "[00:01.00]hello\n[00:03.00]world", raw)

	_, err = plain.GetLyrics(context.Background(), "0")
	require.ErrorIs(t, err, ErrNoLyrics)

	translated := newTestClient(t, handler, Options{Translation: true})
	raw, err = translated.GetLyrics(context.Background(), "1")
	require.NoError(t, err)
	require.Equal(t, "[00:01.00]hello\n[00:01.00]你好\n[00:03.00]world", raw)
}

func TestClientErrorStatusIsNotRetried(t *testing.T) {
	requests := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusForbidden)
	}, Options{})

	_, err := client.GetLyrics(context.Background(), "1")
	require.Error(t, err)
	require.Equal(t, 1, requests)
}
