package query

import (
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"parisdvf/server/internal/models"
)

// Loader supplies the full transaction set. The database client
// satisfies it.
type Loader interface {
	GetAllTransactions() ([]models.Transaction, error)
}

// Filter narrows the working set before aggregation. Zero values leave
// a dimension unconstrained.
type Filter struct {
	DateMin         *time.Time
	DateMax         *time.Time
	Arrondissements []string
	TypesLocaux     []string
	NaturesMutation []string
	PrixMin         *float64
	PrixMax         *float64
}

// Service answers dashboard queries from a memoized in-memory copy of
// the store. The copy is loaded once per serving session and refreshed
// explicitly after a pipeline run via Invalidate.
type Service struct {
	loader Loader
	logger *logrus.Logger

	mu     sync.RWMutex
	loaded bool
	txs    []models.Transaction
}

func NewService(loader Loader, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Service{loader: loader, logger: logger}
}

// Invalidate drops the memoized copy; the next query reloads.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.loaded = false
	s.txs = nil
	s.mu.Unlock()
}

func (s *Service) load() ([]models.Transaction, error) {
	s.mu.RLock()
	if s.loaded {
		txs := s.txs
		s.mu.RUnlock()
		return txs, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.txs, nil
	}

	txs, err := s.loader.GetAllTransactions()
	if err != nil {
		return nil, err
	}
	s.txs = txs
	s.loaded = true
	s.logger.WithField("transactions", len(txs)).Info("Loaded transactions for query session")
	return txs, nil
}

func matchesAny(value string, values []string) bool {
	if len(values) == 0 {
		return true
	}
	for _, v := range values {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}

func (f Filter) matches(tx models.Transaction) bool {
	if f.DateMin != nil && tx.DateMutation.Before(*f.DateMin) {
		return false
	}
	if f.DateMax != nil && tx.DateMutation.After(*f.DateMax) {
		return false
	}
	if f.PrixMin != nil && tx.ValeurFonciere < *f.PrixMin {
		return false
	}
	if f.PrixMax != nil && tx.ValeurFonciere > *f.PrixMax {
		return false
	}
	if !matchesAny(tx.Arrondissement, f.Arrondissements) {
		return false
	}
	if !matchesAny(tx.TypeLocal, f.TypesLocaux) {
		return false
	}
	if !matchesAny(tx.NatureMutation, f.NaturesMutation) {
		return false
	}
	return true
}

// Transactions returns the filtered set, newest first, capped at limit
// when limit > 0.
func (s *Service) Transactions(f Filter, limit int) ([]models.Transaction, error) {
	txs, err := s.load()
	if err != nil {
		return nil, err
	}

	out := make([]models.Transaction, 0, len(txs))
	for _, tx := range txs {
		if f.matches(tx) {
			out = append(out, tx)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Summary computes the headline figures over the filtered set. The
// large-sale threshold is the 90th percentile of sale values.
func (s *Service) Summary(f Filter) (*models.Summary, error) {
	txs, err := s.Transactions(f, 0)
	if err != nil {
		return nil, err
	}

	summary := &models.Summary{Count: len(txs)}
	if len(txs) == 0 {
		return summary, nil
	}

	valeurs := make([]float64, 0, len(txs))
	var prixM2 []float64
	var surfaces []float64
	for _, tx := range txs {
		valeurs = append(valeurs, tx.ValeurFonciere)
		if tx.PrixM2 != nil {
			prixM2 = append(prixM2, *tx.PrixM2)
		}
		if tx.SurfaceReelleBati != nil {
			surfaces = append(surfaces, *tx.SurfaceReelleBati)
		}
	}

	summary.ValeurMoyenne = mean(valeurs)
	summary.ValeurMediane = median(valeurs)
	summary.PrixM2Median = median(prixM2)
	summary.SurfaceMoyenne = mean(surfaces)
	summary.SeuilGrossesVentes = quantile(valeurs, 0.9)
	for _, v := range valeurs {
		if v >= summary.SeuilGrossesVentes {
			summary.NbGrossesVentes++
		}
	}
	return summary, nil
}

// ByArrondissement aggregates the filtered set per district, ordered by
// district number.
func (s *Service) ByArrondissement(f Filter) ([]models.ArrondissementStats, error) {
	txs, err := s.Transactions(f, 0)
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]models.Transaction)
	for _, tx := range txs {
		if tx.Arrondissement == "" {
			continue
		}
		groups[tx.Arrondissement] = append(groups[tx.Arrondissement], tx)
	}

	out := make([]models.ArrondissementStats, 0, len(groups))
	for arr, group := range groups {
		valeurs := make([]float64, 0, len(group))
		var prixM2, surfaces []float64
		for _, tx := range group {
			valeurs = append(valeurs, tx.ValeurFonciere)
			if tx.PrixM2 != nil {
				prixM2 = append(prixM2, *tx.PrixM2)
			}
			if tx.SurfaceReelleBati != nil {
				surfaces = append(surfaces, *tx.SurfaceReelleBati)
			}
		}
		out = append(out, models.ArrondissementStats{
			Arrondissement: arr,
			Count:          len(group),
			ValeurMediane:  median(valeurs),
			PrixM2Median:   median(prixM2),
			SurfaceMediane: median(surfaces),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return arrNumber(out[i].Arrondissement) < arrNumber(out[j].Arrondissement)
	})
	return out, nil
}

// ByMonth aggregates the filtered set per calendar month, in
// chronological order. Months are "2006-01" keys.
func (s *Service) ByMonth(f Filter) ([]models.MonthlyStats, error) {
	txs, err := s.Transactions(f, 0)
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]models.Transaction)
	for _, tx := range txs {
		key := tx.DateMutation.Format("2006-01")
		groups[key] = append(groups[key], tx)
	}

	out := make([]models.MonthlyStats, 0, len(groups))
	for month, group := range groups {
		valeurs := make([]float64, 0, len(group))
		var prixM2 []float64
		for _, tx := range group {
			valeurs = append(valeurs, tx.ValeurFonciere)
			if tx.PrixM2 != nil {
				prixM2 = append(prixM2, *tx.PrixM2)
			}
		}
		out = append(out, models.MonthlyStats{
			Month:         month,
			Count:         len(group),
			ValeurMediane: median(valeurs),
			PrixM2Median:  median(prixM2),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out, nil
}

func arrNumber(arr string) int {
	n := 0
	for _, r := range arr {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func median(values []float64) float64 {
	return quantile(values, 0.5)
}

// quantile uses linear interpolation between closest ranks, matching
// the convention of common dataframe libraries.
func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lower := int(pos)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}
