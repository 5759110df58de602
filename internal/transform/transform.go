package transform

import (
	"strconv"
	"time"

	"parisdvf/server/internal/dvf"
	"parisdvf/server/internal/models"
)

// TypeLocalTable is the versioned lookup from DVF+ property-type codes
// to display labels. The code path is only used when the API omits the
// libtypbien label; unmapped codes fall back to a catch-all.
type TypeLocalTable struct {
	Version  string
	labels   map[string]string
	fallback string
}

// DefaultTypeLocalTable matches the DVF+ open-data code table.
func DefaultTypeLocalTable() TypeLocalTable {
	return TypeLocalTable{
		Version: "dvfplus-2024",
		labels: map[string]string{
			"111": "Maison",
			"121": "Appartement",
			"10":  "Local industriel",
			"20":  "Local commercial",
			"30":  "Local activite",
		},
		fallback: "Autre",
	}
}

// Label resolves a property-type code, falling back for unmapped codes.
func (t TypeLocalTable) Label(code string) string {
	if label, ok := t.labels[code]; ok {
		return label
	}
	return t.fallback
}

// Arrondissement derives the district number from an INSEE or postal
// code: the last two digits, leading zeros normalized ("75104" -> "4").
// Already-derived values pass through unchanged.
func Arrondissement(code string) string {
	if len(code) > 2 {
		code = code[len(code)-2:]
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return ""
	}
	return strconv.Itoa(n)
}

// PrixM2 derives price per square meter. Nil surface and zero surface
// both yield nil, never an infinity.
func PrixM2(valeur float64, surface *float64) *float64 {
	if surface == nil || *surface == 0 {
		return nil
	}
	v := valeur / *surface
	return &v
}

// Transformer normalizes raw source records into the store schema. It
// is a pure function of each input batch; nothing carries over between
// calls, so a failed batch can be retried in isolation.
type Transformer struct {
	types TypeLocalTable
	now   func() time.Time
}

func NewTransformer() *Transformer {
	return &Transformer{
		types: DefaultTypeLocalTable(),
		now:   time.Now,
	}
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Mutations maps one batch of raw API records to normalized
// transactions. Rows missing a sale value or mutation date are dropped
// after all derivations.
func (t *Transformer) Mutations(raw []dvf.Mutation) []models.Transaction {
	scrapedAt := t.now()
	out := make([]models.Transaction, 0, len(raw))

	for _, m := range raw {
		date, hasDate := parseDate(m.DateMut)
		valeur := m.ValeurFonc.Ptr()

		codeInsee := m.LCodInsee.First()
		tx := models.Transaction{
			IDMutation:        m.IDMutation.String(),
			IDParcelle:        m.LIdPar.First(),
			DateMutation:      date,
			SurfaceReelleBati: m.SBati.Ptr(),
			SurfaceTerrain:    m.STerr.Ptr(),
			NbPieces:          m.NbPiece.Ptr(),
			TypeLocal:         t.typeLocal(m),
			NatureMutation:    m.LibNatMut,
			CodeInsee:         codeInsee,
			CodePostal:        codePostal(codeInsee),
			Arrondissement:    Arrondissement(codeInsee),
			Latitude:          m.Latitude.Ptr(),
			Longitude:         m.Longitude.Ptr(),
			Vefa:              m.Vefa.Bool(),
			ScrapedAt:         scrapedAt,
		}
		if valeur != nil {
			tx.ValeurFonciere = *valeur
			tx.PrixM2 = PrixM2(*valeur, tx.SurfaceReelleBati)
		}

		if valeur == nil || !hasDate {
			continue
		}
		out = append(out, tx)
	}
	return out
}

func (t *Transformer) typeLocal(m dvf.Mutation) string {
	if m.LibTypBien != "" {
		return m.LibTypBien
	}
	return t.types.Label(m.CodTypBien.String())
}

// codePostal reconstructs the Paris postal code from the INSEE code
// ("75104" -> "75004"). The API variant carries no postal code field.
func codePostal(codeInsee string) string {
	if len(codeInsee) < 2 {
		return ""
	}
	return "750" + codeInsee[len(codeInsee)-2:]
}
