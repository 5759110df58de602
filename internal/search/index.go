package search

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/fr"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/sirupsen/logrus"

	"parisdvf/server/internal/models"
)

const batchSize = 500

// Index is the full-text search engine over normalized transactions.
// Its documents are a disposable projection of the store: every rebuild
// drops the index and reindexes from scratch.
type Index struct {
	path   string
	idx    bleve.Index
	logger *logrus.Logger
}

func NewIndex(path string, logger *logrus.Logger) *Index {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Index{path: path, logger: logger}
}

// FullSearchText synthesizes the single free-text field queried by the
// search box: property type, sale nature, district and postal code.
func FullSearchText(tx models.Transaction) string {
	return fmt.Sprintf("%s %s %seme arrondissement Paris %s",
		tx.TypeLocal, tx.NatureMutation, tx.Arrondissement, tx.CodePostal)
}

func buildMapping() mapping.IndexMapping {
	frText := bleve.NewTextFieldMapping()
	frText.Analyzer = fr.AnalyzerName

	keyword := bleve.NewKeywordFieldMapping()
	numeric := bleve.NewNumericFieldMapping()
	date := bleve.NewDateTimeFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("type_local", frText)
	doc.AddFieldMappingsAt("nature_mutation", frText)
	doc.AddFieldMappingsAt("recherche_complete", frText)
	doc.AddFieldMappingsAt("arrondissement", keyword)
	doc.AddFieldMappingsAt("code_postal", keyword)
	doc.AddFieldMappingsAt("id_mutation", keyword)
	doc.AddFieldMappingsAt("valeur_fonciere", numeric)
	doc.AddFieldMappingsAt("surface_reelle_bati", numeric)
	doc.AddFieldMappingsAt("prix_m2", numeric)
	doc.AddFieldMappingsAt("nb_pieces", numeric)
	doc.AddFieldMappingsAt("date_mutation", date)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

func document(tx models.Transaction) map[string]interface{} {
	doc := map[string]interface{}{
		"id_mutation":        tx.IDMutation,
		"date_mutation":      tx.DateMutation,
		"valeur_fonciere":    tx.ValeurFonciere,
		"type_local":         tx.TypeLocal,
		"nature_mutation":    tx.NatureMutation,
		"code_postal":        tx.CodePostal,
		"arrondissement":     tx.Arrondissement,
		"recherche_complete": FullSearchText(tx),
	}
	if tx.SurfaceReelleBati != nil {
		doc["surface_reelle_bati"] = *tx.SurfaceReelleBati
	}
	if tx.PrixM2 != nil {
		doc["prix_m2"] = *tx.PrixM2
	}
	if tx.NbPieces != nil {
		doc["nb_pieces"] = *tx.NbPieces
	}
	return doc
}

// Rebuild drops any existing index, recreates the schema and
// bulk-indexes every transaction. A document that fails to index is
// counted, not fatal to the batch.
func (i *Index) Rebuild(txs []models.Transaction) (indexed, failed int, err error) {
	if i.idx != nil {
		i.idx.Close()
		i.idx = nil
	}
	if err := os.RemoveAll(i.path); err != nil {
		return 0, 0, fmt.Errorf("failed to remove previous index: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(i.path), 0755); err != nil {
		return 0, 0, fmt.Errorf("failed to create index directory: %w", err)
	}

	idx, err := bleve.New(i.path, buildMapping())
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create index: %w", err)
	}
	i.idx = idx

	batch := idx.NewBatch()
	flush := func() {
		size := batch.Size()
		if size == 0 {
			return
		}
		if err := idx.Batch(batch); err != nil {
			failed += size
		} else {
			indexed += size
		}
		batch = idx.NewBatch()
	}

	for n, tx := range txs {
		docID := tx.IDMutation
		if docID == "" {
			docID = fmt.Sprintf("tx-%d", n)
		} else {
			docID = fmt.Sprintf("%s-%d", docID, n)
		}
		if err := batch.Index(docID, document(tx)); err != nil {
			failed++
			continue
		}
		if batch.Size() >= batchSize {
			flush()
		}
	}
	flush()

	i.logger.WithFields(logrus.Fields{
		"indexed": indexed,
		"failed":  failed,
	}).Info("Search index rebuilt")
	return indexed, failed, nil
}

// Filters are the optional structured constraints alongside the free
// text query.
type Filters struct {
	Arrondissement string
	TypeLocal      string
	PrixMin        *float64
	PrixMax        *float64
	SurfaceMin     *float64
	SurfaceMax     *float64
	DateMin        *time.Time
	DateMax        *time.Time
}

// Result is one ranked hit with its stored fields.
type Result struct {
	Score  float64                `json:"score"`
	Fields map[string]interface{} `json:"fields"`
}

func (i *Index) open() error {
	if i.idx != nil {
		return nil
	}
	idx, err := bleve.Open(i.path)
	if err != nil {
		return fmt.Errorf("search index unavailable: %w", err)
	}
	i.idx = idx
	return nil
}

// Available reports whether the index can serve queries and holds at
// least one document.
func (i *Index) Available() bool {
	if err := i.open(); err != nil {
		return false
	}
	count, err := i.idx.DocCount()
	return err == nil && count > 0
}

// Search runs a fuzzy multi-field query with optional range and term
// filters, returning up to size ranked results.
func (i *Index) Search(q string, f Filters, size int) ([]Result, error) {
	if err := i.open(); err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 100
	}

	var clauses []query.Query
	if strings.TrimSpace(q) != "" {
		match := func(field string, boost float64) query.Query {
			mq := bleve.NewMatchQuery(q)
			mq.SetField(field)
			mq.SetBoost(boost)
			mq.SetFuzziness(1)
			return mq
		}
		clauses = append(clauses, bleve.NewDisjunctionQuery(
			match("recherche_complete", 3),
			match("type_local", 2),
			match("nature_mutation", 1),
			match("arrondissement", 1),
		))
	}

	if f.Arrondissement != "" {
		tq := bleve.NewTermQuery(f.Arrondissement)
		tq.SetField("arrondissement")
		clauses = append(clauses, tq)
	}
	if f.TypeLocal != "" {
		mq := bleve.NewMatchQuery(f.TypeLocal)
		mq.SetField("type_local")
		clauses = append(clauses, mq)
	}
	if f.PrixMin != nil || f.PrixMax != nil {
		nrq := bleve.NewNumericRangeQuery(f.PrixMin, f.PrixMax)
		nrq.SetField("valeur_fonciere")
		clauses = append(clauses, nrq)
	}
	if f.SurfaceMin != nil || f.SurfaceMax != nil {
		nrq := bleve.NewNumericRangeQuery(f.SurfaceMin, f.SurfaceMax)
		nrq.SetField("surface_reelle_bati")
		clauses = append(clauses, nrq)
	}
	if f.DateMin != nil || f.DateMax != nil {
		var start, end time.Time
		if f.DateMin != nil {
			start = *f.DateMin
		}
		if f.DateMax != nil {
			end = *f.DateMax
		}
		drq := bleve.NewDateRangeQuery(start, end)
		drq.SetField("date_mutation")
		clauses = append(clauses, drq)
	}

	var finalQuery query.Query
	switch len(clauses) {
	case 0:
		finalQuery = bleve.NewMatchAllQuery()
	case 1:
		finalQuery = clauses[0]
	default:
		finalQuery = bleve.NewConjunctionQuery(clauses...)
	}

	req := bleve.NewSearchRequestOptions(finalQuery, size, 0, false)
	req.Fields = []string{"*"}

	res, err := i.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		results = append(results, Result{Score: hit.Score, Fields: hit.Fields})
	}
	return results, nil
}

func (i *Index) DocCount() (uint64, error) {
	if err := i.open(); err != nil {
		return 0, err
	}
	return i.idx.DocCount()
}

func (i *Index) Close() error {
	if i.idx == nil {
		return nil
	}
	err := i.idx.Close()
	i.idx = nil
	return err
}
