package feed_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xaviermiles/web-sentiment-analysis/internal/feed"
	"github.com/xaviermiles/web-sentiment-analysis/internal/models"
)

func TestClientFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/20200905031500.gkg.csv.zip" {
			w.Write([]byte("zip-bytes"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := feed.NewClient(srv.URL+"/masterfilelist.txt", nil)

	body, err := c.Fetch(context.Background(), models.FeedReference{URL: srv.URL + "/20200905031500.gkg.csv.zip", Name: "20200905031500.gkg.csv.zip"})
	require.NoError(t, err)
	require.Equal(t, []byte("zip-bytes"), body)

	_, err = c.Fetch(context.Background(), models.FeedReference{URL: srv.URL + "/missing.gkg.csv.zip", Name: "missing.gkg.csv.zip"})
	require.ErrorIs(t, err, feed.ErrFetch)
}

func TestClientMasterListPermanentFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := feed.NewClient(srv.URL, nil).MasterList(context.Background())
	require.ErrorIs(t, err, feed.ErrFetch)
	require.Equal(t, int32(1), calls.Load())
}

func TestClientMasterListRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(masterList))
	}))
	defer srv.Close()

	body, err := feed.NewClient(srv.URL, nil).MasterList(context.Background())
	require.NoError(t, err)
	require.Equal(t, masterList, string(body))
	require.Equal(t, int32(2), calls.Load())
}

type stubLister struct {
	calls int
	body  string
}

func (s *stubLister) MasterList(context.Context) ([]byte, error) {
	s.calls++
	return []byte(s.body), nil
}

func TestSourceWritesAndReusesCache(t *testing.T) {
	cache := filepath.Join(t.TempDir(), "cache", "gkg_urls.txt")
	lister := &stubLister{body: masterList}
	loc := feed.NewLocator(feed.Window{}, nil)

	refs, err := feed.NewSource(lister, loc, cache, false, nil).References(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, refs, 3)
	require.Equal(t, 1, lister.calls)

	urls, err := feed.LoadURLs(cache)
	require.NoError(t, err)
	require.Len(t, urls, 3)

	again, err := feed.NewSource(lister, loc, cache, false, nil).References(context.Background(), map[string]struct{}{"20150219000000": {}})
	require.NoError(t, err)
	require.Equal(t, 1, lister.calls)
	require.Equal(t, []string{"20150218231500", "20150218230000"}, ids(again))

	_, err = feed.NewSource(lister, loc, cache, true, nil).References(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 2, lister.calls)
}

func TestSaveURLsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, feed.SaveURLs(path, []string{"http://a/1", "http://a/2"}))

	urls, err := feed.LoadURLs(path)
	require.NoError(t, err)
	require.Equal(t, []string{"http://a/1", "http://a/2"}, urls)
}
