package transform

import (
	"encoding/json"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"parisdvf/server/internal/models"
)

// Parcelles maps cadastral GeoJSON features to parcel records, joining
// the given transactions by parcel identifier. The polygon itself is
// carried through as an opaque serialized payload; a representative
// point is derived for schemas that need a single coordinate.
func (t *Transformer) Parcelles(fc *geojson.FeatureCollection, txs []models.Transaction) []models.Parcel {
	byParcelle := make(map[string][]models.Transaction)
	for _, tx := range txs {
		if tx.IDParcelle == "" {
			continue
		}
		byParcelle[tx.IDParcelle] = append(byParcelle[tx.IDParcelle], tx)
	}

	out := make([]models.Parcel, 0, len(fc.Features))
	for _, f := range fc.Features {
		id := featureID(f)
		if id == "" {
			continue
		}

		commune := stringProp(f, "commune")
		p := models.Parcel{
			IDParcelle:     id,
			GeomJSON:       serializeGeometry(f.Geometry),
			Commune:        commune,
			Section:        stringProp(f, "section"),
			Numero:         stringProp(f, "numero"),
			Arrondissement: Arrondissement(commune),
		}
		if lat, lon, ok := Centroid(f.Geometry); ok {
			p.Latitude = &lat
			p.Longitude = &lon
		}

		attachTransactions(&p, byParcelle[id])
		out = append(out, p)
	}
	return out
}

// attachTransactions fills the latest-transaction fields and the
// aggregates for one parcel.
func attachTransactions(p *models.Parcel, txs []models.Transaction) {
	if len(txs) == 0 {
		return
	}

	sorted := make([]models.Transaction, len(txs))
	copy(sorted, txs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].DateMutation.Before(sorted[j].DateMutation)
	})
	latest := sorted[len(sorted)-1]

	p.HasTransaction = true
	p.NbTransactions = len(sorted)
	p.IDMutation = latest.IDMutation
	date := latest.DateMutation
	p.DateMutation = &date
	p.NatureMutation = latest.NatureMutation
	valeur := latest.ValeurFonciere
	p.ValeurFonciere = &valeur
	p.TypeLocal = latest.TypeLocal
	p.SurfaceReelleBati = latest.SurfaceReelleBati
	p.NbPieces = latest.NbPieces
	p.CodePostal = latest.CodePostal
	p.PrixM2 = PrixM2(latest.ValeurFonciere, latest.SurfaceReelleBati)

	var sumValeur, sumPrixM2 float64
	var nPrixM2 int
	for _, tx := range sorted {
		sumValeur += tx.ValeurFonciere
		if pm := PrixM2(tx.ValeurFonciere, tx.SurfaceReelleBati); pm != nil {
			sumPrixM2 += *pm
			nPrixM2++
		}
	}
	meanValeur := sumValeur / float64(len(sorted))
	p.ValeurFonciereMoyenne = &meanValeur
	if nPrixM2 > 0 {
		meanPrixM2 := sumPrixM2 / float64(nPrixM2)
		p.PrixM2Moyen = &meanPrixM2
	}
}

// Centroid returns the arithmetic mean of a ring's coordinates: the
// first ring of a polygon, or the first ring of the first polygon of a
// multipolygon. Points pass through unchanged.
func Centroid(g orb.Geometry) (lat, lon float64, ok bool) {
	var ring orb.Ring
	switch geom := g.(type) {
	case orb.Point:
		return geom.Lat(), geom.Lon(), true
	case orb.Polygon:
		if len(geom) > 0 {
			ring = geom[0]
		}
	case orb.MultiPolygon:
		if len(geom) > 0 && len(geom[0]) > 0 {
			ring = geom[0][0]
		}
	}
	if len(ring) == 0 {
		return 0, 0, false
	}

	var sumLon, sumLat float64
	for _, pt := range ring {
		sumLon += pt.X()
		sumLat += pt.Y()
	}
	n := float64(len(ring))
	return sumLat / n, sumLon / n, true
}

func serializeGeometry(g orb.Geometry) string {
	if g == nil {
		return ""
	}
	data, err := json.Marshal(geojson.NewGeometry(g))
	if err != nil {
		return ""
	}
	return string(data)
}

func featureID(f *geojson.Feature) string {
	if s, ok := f.ID.(string); ok && s != "" {
		return s
	}
	return stringProp(f, "id")
}

func stringProp(f *geojson.Feature, key string) string {
	if s, ok := f.Properties[key].(string); ok {
		return s
	}
	return ""
}
