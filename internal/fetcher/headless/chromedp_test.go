package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/StamperDavid/prospect-intel/internal/scrape"
)

func TestDocumentInfoTracksMainDocument(t *testing.T) {
	t.Parallel()

	doc := &documentInfo{}
	doc.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status: 301,
			URL:    "https://acme.example/start",
		},
	})
	doc.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status: 200,
			URL:    "https://acme.example/final",
		},
	})

	status, url := doc.result("https://request.example/")
	require.Equal(t, 200, status)
	require.Equal(t, "https://acme.example/final", url)
}

func TestDocumentInfoIgnoresSubresources(t *testing.T) {
	t.Parallel()

	doc := &documentInfo{}
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 404, URL: "https://acme.example/logo.png"},
	})
	doc.observe("not an event")

	status, url := doc.result("https://request.example/")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://request.example/", url)
}

func TestNewChromedpAppliesDefaults(t *testing.T) {
	t.Parallel()

	f, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, 45*time.Second, f.cfg.NavigationTimeout)
	require.Equal(t, 500*time.Millisecond, f.cfg.SettleDelay)
	require.Equal(t, 2, cap(f.limiter))

	_, err = NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)
}

func TestNoopFetcherAlwaysErrors(t *testing.T) {
	t.Parallel()

	_, err := NewNoop().Fetch(context.Background(), scrape.FetchRequest{URL: "https://acme.example"})
	require.Error(t, err)
}
