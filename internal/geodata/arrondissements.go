package geodata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus"
)

// Arrondissements serves the Paris district boundary polygons used by
// the map overlay. The GeoJSON export is fetched once from the open
// data portal and cached on disk; boundaries do not change between
// deployments.
type Arrondissements struct {
	logger    *logrus.Logger
	sourceURL string
	cacheDir  string
	client    *http.Client

	mu     sync.RWMutex
	cached []byte
}

func NewArrondissements(sourceURL, cacheDir string, logger *logrus.Logger) *Arrondissements {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	os.MkdirAll(cacheDir, 0755)

	a := &Arrondissements{
		logger:    logger,
		sourceURL: sourceURL,
		cacheDir:  cacheDir,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
	a.loadCache()
	return a
}

func (a *Arrondissements) cacheFile() string {
	return filepath.Join(a.cacheDir, "arrondissements.geojson")
}

func (a *Arrondissements) loadCache() {
	data, err := os.ReadFile(a.cacheFile())
	if err != nil {
		return
	}
	if _, err := geojson.UnmarshalFeatureCollection(data); err != nil {
		a.logger.WithError(err).Warn("Discarding corrupt arrondissements cache")
		return
	}
	a.cached = data
	a.logger.WithField("bytes", len(data)).Info("Loaded arrondissements boundaries from cache")
}

func (a *Arrondissements) saveCache(data []byte) {
	if err := os.WriteFile(a.cacheFile(), data, 0644); err != nil {
		a.logger.WithError(err).Error("Failed to save arrondissements cache")
		return
	}
	a.logger.Info("Saved arrondissements boundaries to disk")
}

// GeoJSON returns the raw boundary FeatureCollection, fetching it on
// first use.
func (a *Arrondissements) GeoJSON(ctx context.Context) ([]byte, error) {
	a.mu.RLock()
	if a.cached != nil {
		data := a.cached
		a.mu.RUnlock()
		return data, nil
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cached != nil {
		return a.cached, nil
	}

	a.logger.WithField("url", a.sourceURL).Info("Fetching arrondissements boundaries")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("boundaries request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("boundaries request rejected with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read boundaries: %w", err)
	}
	if _, err := geojson.UnmarshalFeatureCollection(data); err != nil {
		return nil, fmt.Errorf("failed to parse boundaries: %w", err)
	}

	a.cached = data
	go a.saveCache(data)
	return data, nil
}
