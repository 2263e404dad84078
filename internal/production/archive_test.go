package production

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPAssetFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/small.png":
			_, _ = w.Write([]byte("tiny"))
		case "/big.png":
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	fetcher := NewHTTPAssetFetcher(time.Second, 16)
	ctx := context.Background()

	data, err := fetcher.Fetch(ctx, srv.URL+"/small.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("tiny"), data)

	_, err = fetcher.Fetch(ctx, srv.URL+"/big.png")
	assert.ErrorIs(t, err, ErrAssetTooLarge)

	_, err = fetcher.Fetch(ctx, srv.URL+"/gone.png")
	assert.ErrorContains(t, err, "404")

	_, err = fetcher.Fetch(ctx, "file:///etc/passwd")
	assert.ErrorContains(t, err, "unsupported")
}

func TestAssetFileName(t *testing.T) {
	assert.Equal(t, "assets/001-logo.png", assetFileName(0, "https://cdn.example.com/a/logo.png?v=2"))
	assert.Equal(t, "assets/012-asset", assetFileName(11, "https://cdn.example.com/"))
}

func TestUniqueAssetRefs(t *testing.T) {
	items := []Item{
		{AssetRef: []string{"a", " ", "b"}},
		{AssetRef: []string{"b", "c"}},
	}
	assert.Equal(t, []string{"a", "b", "c"}, uniqueAssetRefs(items))
}
