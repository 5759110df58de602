package models

import "time"

// Transaction is one normalized DVF mutation (a recorded property sale).
// ValeurFonciere and DateMutation are mandatory; rows missing either never
// reach the store. PrixM2 is always derived from ValeurFonciere and
// SurfaceReelleBati, never authoritative on its own.
type Transaction struct {
	ID                uint      `json:"id" gorm:"primaryKey"`
	IDMutation        string    `json:"id_mutation" gorm:"column:id_mutation;index"`
	IDParcelle        string    `json:"id_parcelle" gorm:"column:id_parcelle;index"`
	DateMutation      time.Time `json:"date_mutation" gorm:"index"`
	ValeurFonciere    float64   `json:"valeur_fonciere"`
	SurfaceReelleBati *float64  `json:"surface_reelle_bati"`
	SurfaceTerrain    *float64  `json:"surface_terrain"`
	PrixM2            *float64  `json:"prix_m2" gorm:"column:prix_m2"`
	NbPieces          *int      `json:"nb_pieces"`
	TypeLocal         string    `json:"type_local"`
	NatureMutation    string    `json:"nature_mutation"`
	CodeInsee         string    `json:"code_insee"`
	CodePostal        string    `json:"code_postal"`
	Arrondissement    string    `json:"arrondissement" gorm:"index"`
	Latitude          *float64  `json:"latitude"`
	Longitude         *float64  `json:"longitude"`
	Vefa              bool      `json:"vefa"`
	ScrapedAt         time.Time `json:"scraped_at"`
}

// Parcel is one cadastral parcel polygon, optionally carrying the most
// recent associated transaction plus aggregates over all of them.
type Parcel struct {
	ID             uint   `json:"id" gorm:"primaryKey"`
	IDParcelle     string `json:"id_parcelle" gorm:"column:id_parcelle;uniqueIndex"`
	GeomJSON       string `json:"geom_json" gorm:"column:geom_json"`
	Commune        string `json:"commune" gorm:"index"`
	Section        string `json:"section"`
	Numero         string `json:"numero"`
	Arrondissement string `json:"arrondissement" gorm:"index"`

	HasTransaction bool `json:"has_transaction" gorm:"index"`
	NbTransactions int  `json:"nb_transactions"`

	// Most recent associated transaction, when any exists.
	IDMutation        string     `json:"id_mutation" gorm:"column:id_mutation"`
	DateMutation      *time.Time `json:"date_mutation"`
	NatureMutation    string     `json:"nature_mutation"`
	ValeurFonciere    *float64   `json:"valeur_fonciere"`
	TypeLocal         string     `json:"type_local"`
	SurfaceReelleBati *float64   `json:"surface_reelle_bati"`
	NbPieces          *int       `json:"nb_pieces"`
	CodePostal        string     `json:"code_postal"`
	PrixM2            *float64   `json:"prix_m2" gorm:"column:prix_m2"`

	// Aggregates over all valid associated transactions.
	ValeurFonciereMoyenne *float64 `json:"valeur_fonciere_moyenne"`
	PrixM2Moyen           *float64 `json:"prix_m2_moyen" gorm:"column:prix_m2_moyen"`

	// Centroid of the first ring, used where a single point is needed.
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// TableName keeps the table aligned with the historical schema.
func (Parcel) TableName() string {
	return "parcelles"
}

// Summary holds the headline figures displayed above the dashboard.
type Summary struct {
	Count              int     `json:"count"`
	ValeurMoyenne      float64 `json:"valeur_moyenne"`
	ValeurMediane      float64 `json:"valeur_mediane"`
	PrixM2Median       float64 `json:"prix_m2_median"`
	SurfaceMoyenne     float64 `json:"surface_moyenne"`
	SeuilGrossesVentes float64 `json:"seuil_grosses_ventes"`
	NbGrossesVentes    int     `json:"nb_grosses_ventes"`
}

// ArrondissementStats aggregates transactions for one district.
type ArrondissementStats struct {
	Arrondissement string  `json:"arrondissement"`
	Count          int     `json:"count"`
	ValeurMediane  float64 `json:"valeur_mediane"`
	PrixM2Median   float64 `json:"prix_m2_median"`
	SurfaceMediane float64 `json:"surface_mediane"`
}

// MonthlyStats aggregates transactions for one calendar month.
type MonthlyStats struct {
	Month         string  `json:"month"`
	Count         int     `json:"count"`
	ValeurMediane float64 `json:"valeur_mediane"`
	PrixM2Median  float64 `json:"prix_m2_median"`
}
