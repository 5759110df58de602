package config

import "fmt"

// Commune is one administrative unit covered by the scraper.
type Commune struct {
	CodeInsee      string    `json:"code_insee"`
	Arrondissement string    `json:"arrondissement"`
	Center         []float64 `json:"center"`
	ZoomLevel      int       `json:"zoom_level"`
}

// ParisCommunes lists the 20 Paris arrondissements (INSEE 75101-75120).
var ParisCommunes = buildParisCommunes()

func buildParisCommunes() []Commune {
	communes := make([]Commune, 0, 20)
	for i := 1; i <= 20; i++ {
		communes = append(communes, Commune{
			CodeInsee:      fmt.Sprintf("751%02d", i),
			Arrondissement: fmt.Sprintf("%d", i),
			Center:         []float64{48.8566, 2.3522},
			ZoomLevel:      13,
		})
	}
	return communes
}

// ParisInseeCodes returns the INSEE codes of all covered communes.
func ParisInseeCodes() []string {
	codes := make([]string, len(ParisCommunes))
	for i, c := range ParisCommunes {
		codes[i] = c.CodeInsee
	}
	return codes
}

// GetCommuneByCode returns a commune by its INSEE code.
func GetCommuneByCode(code string) *Commune {
	for _, c := range ParisCommunes {
		if c.CodeInsee == code {
			return &c
		}
	}
	return nil
}
