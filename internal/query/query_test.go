package query

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parisdvf/server/internal/models"
)

type fakeLoader struct {
	txs   []models.Transaction
	err   error
	calls int
}

func (l *fakeLoader) GetAllTransactions() ([]models.Transaction, error) {
	l.calls++
	return l.txs, l.err
}

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func fixtureTransactions() []models.Transaction {
	mk := func(id string, dt time.Time, valeur, surface float64, arr, typeLocal string) models.Transaction {
		tx := models.Transaction{
			IDMutation:     id,
			DateMutation:   dt,
			ValeurFonciere: valeur,
			Arrondissement: arr,
			TypeLocal:      typeLocal,
			NatureMutation: "Vente",
		}
		if surface > 0 {
			s := surface
			tx.SurfaceReelleBati = &s
			pm := valeur / surface
			tx.PrixM2 = &pm
		}
		return tx
	}

	return []models.Transaction{
		mk("m1", date(2023, 1, 10), 100000, 10, "1", "Appartement"),
		mk("m2", date(2023, 1, 20), 200000, 20, "1", "Appartement"),
		mk("m3", date(2023, 2, 5), 300000, 30, "4", "Maison"),
		mk("m4", date(2023, 3, 15), 400000, 40, "16", "Appartement"),
		mk("m5", date(2023, 3, 25), 500000, 50, "16", "Local commercial"),
	}
}

func TestTransactionsMemoizesLoad(t *testing.T) {
	loader := &fakeLoader{txs: fixtureTransactions()}
	s := NewService(loader, nil)

	_, err := s.Transactions(Filter{}, 0)
	require.NoError(t, err)
	_, err = s.Transactions(Filter{}, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, loader.calls)

	s.Invalidate()
	_, err = s.Transactions(Filter{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, loader.calls)
}

func TestTransactionsFilters(t *testing.T) {
	s := NewService(&fakeLoader{txs: fixtureTransactions()}, nil)

	min := date(2023, 2, 1)
	byDate, err := s.Transactions(Filter{DateMin: &min}, 0)
	require.NoError(t, err)
	assert.Len(t, byDate, 3)

	byArr, err := s.Transactions(Filter{Arrondissements: []string{"16"}}, 0)
	require.NoError(t, err)
	assert.Len(t, byArr, 2)

	byType, err := s.Transactions(Filter{TypesLocaux: []string{"maison"}}, 0)
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "m3", byType[0].IDMutation)

	prixMax := 250000.0
	byPrix, err := s.Transactions(Filter{PrixMax: &prixMax}, 0)
	require.NoError(t, err)
	assert.Len(t, byPrix, 2)

	limited, err := s.Transactions(Filter{}, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestTransactionsSurfacesLoadError(t *testing.T) {
	s := NewService(&fakeLoader{err: errors.New("store unreachable")}, nil)

	_, err := s.Transactions(Filter{}, 0)
	assert.Error(t, err)
}

func TestSummary(t *testing.T) {
	s := NewService(&fakeLoader{txs: fixtureTransactions()}, nil)

	summary, err := s.Summary(Filter{})
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Count)
	assert.InDelta(t, 300000, summary.ValeurMoyenne, 1e-9)
	assert.InDelta(t, 300000, summary.ValeurMediane, 1e-9)
	assert.InDelta(t, 10000, summary.PrixM2Median, 1e-9)
	assert.InDelta(t, 30, summary.SurfaceMoyenne, 1e-9)
	assert.InDelta(t, 460000, summary.SeuilGrossesVentes, 1e-9)
	assert.Equal(t, 1, summary.NbGrossesVentes)
}

func TestSummaryEmptySet(t *testing.T) {
	s := NewService(&fakeLoader{}, nil)

	summary, err := s.Summary(Filter{})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Count)
	assert.Zero(t, summary.ValeurMoyenne)
}

func TestByArrondissementOrdersByDistrictNumber(t *testing.T) {
	s := NewService(&fakeLoader{txs: fixtureTransactions()}, nil)

	stats, err := s.ByArrondissement(Filter{})
	require.NoError(t, err)
	require.Len(t, stats, 3)

	assert.Equal(t, "1", stats[0].Arrondissement)
	assert.Equal(t, "4", stats[1].Arrondissement)
	assert.Equal(t, "16", stats[2].Arrondissement)

	assert.Equal(t, 2, stats[0].Count)
	assert.InDelta(t, 150000, stats[0].ValeurMediane, 1e-9)
	assert.InDelta(t, 15, stats[0].SurfaceMediane, 1e-9)
}

func TestByMonthChronological(t *testing.T) {
	s := NewService(&fakeLoader{txs: fixtureTransactions()}, nil)

	stats, err := s.ByMonth(Filter{})
	require.NoError(t, err)
	require.Len(t, stats, 3)

	assert.Equal(t, "2023-01", stats[0].Month)
	assert.Equal(t, "2023-02", stats[1].Month)
	assert.Equal(t, "2023-03", stats[2].Month)

	assert.Equal(t, 2, stats[0].Count)
	assert.InDelta(t, 150000, stats[0].ValeurMediane, 1e-9)
}

func TestQuantileInterpolation(t *testing.T) {
	values := []float64{100, 200, 300, 400, 500}

	assert.InDelta(t, 300, quantile(values, 0.5), 1e-9)
	assert.InDelta(t, 460, quantile(values, 0.9), 1e-9)
	assert.InDelta(t, 100, quantile(values, 0), 1e-9)
	assert.InDelta(t, 500, quantile(values, 1), 1e-9)
	assert.Zero(t, quantile(nil, 0.5))
	assert.InDelta(t, 42, quantile([]float64{42}, 0.9), 1e-9)
}
