package geodata

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const boundariesPayload = `{"type": "FeatureCollection", "features": [
	{"type": "Feature",
	 "properties": {"c_ar": 4, "l_ar": "4eme Ardt"},
	 "geometry": {"type": "Polygon", "coordinates": [[[2.35,48.85],[2.36,48.85],[2.36,48.86],[2.35,48.85]]]}}
]}`

func TestGeoJSONFetchesOnceAndMemoizes(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		fmt.Fprint(w, boundariesPayload)
	}))
	defer server.Close()

	a := NewArrondissements(server.URL, t.TempDir(), nil)

	first, err := a.GeoJSON(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, boundariesPayload, string(first))

	second, err := a.GeoJSON(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, requests)
}

func TestGeoJSONUsesDiskCache(t *testing.T) {
	cacheDir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(cacheDir, "arrondissements.geojson"),
		[]byte(boundariesPayload), 0644))

	// No server: the cached copy must be enough.
	a := NewArrondissements("http://127.0.0.1:0/unreachable", cacheDir, nil)

	data, err := a.GeoJSON(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, boundariesPayload, string(data))
}

func TestGeoJSONDiscardsCorruptCache(t *testing.T) {
	cacheDir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(cacheDir, "arrondissements.geojson"),
		[]byte("not geojson"), 0644))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, boundariesPayload)
	}))
	defer server.Close()

	a := NewArrondissements(server.URL, cacheDir, nil)

	data, err := a.GeoJSON(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, boundariesPayload, string(data))
}

func TestGeoJSONRejectsBadUpstreamPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>maintenance</html>")
	}))
	defer server.Close()

	a := NewArrondissements(server.URL, t.TempDir(), nil)

	_, err := a.GeoJSON(context.Background())
	assert.Error(t, err)
}
