package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
)

const (
	fieldDocumentID = "document_id"
	fieldSource     = "source"
	fieldContent    = "content"

	deletePageSize = 1000
)

// BleveIndex implements Index using Bleve. Each chunk is one Bleve document keyed by chunk id.
type BleveIndex struct {
	path  string
	index bleve.Index
	mu    sync.RWMutex
}

func newMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer lowercases and tokenizes without stemming, so "bayes" matches
	// "Bayes" but not "Bayesian".
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(fieldContent, textFieldMapping)
	docMapping.AddFieldMappingsAt(fieldSource, textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	keywordFieldMapping.IncludeInAll = false
	docMapping.AddFieldMappingsAt(fieldDocumentID, keywordFieldMapping)
	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path creates an
// in-memory index. If you change the index mapping in code, remove the index directory to
// force a full re-index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	index, err := openBleve(path)
	if err != nil {
		return nil, err
	}
	return &BleveIndex{path: path, index: index}, nil
}

func openBleve(path string) (bleve.Index, error) {
	if path == "" {
		index, err := bleve.NewMemOnly(newMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return index, nil
	}
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return index, nil
	}
	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return index, nil
}

// IndexChunks adds or replaces entries in one batch.
func (b *BleveIndex) IndexChunks(ctx context.Context, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	batch := b.index.NewBatch()
	for _, e := range entries {
		err := batch.Index(e.ChunkID, map[string]interface{}{
			fieldDocumentID: e.DocumentID,
			fieldSource:     e.Source,
			fieldContent:    e.Text,
		})
		if err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", e.ChunkID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to commit keyword batch: %w", err)
	}
	return nil
}

// Search runs a match query and returns up to limit results.
// When opts is nil or both boosts are <= 1, a single match over source+content is used.
// Otherwise separate source and content queries are merged with additive scoring,
// a term coverage penalty, and a phrase boost.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]Result, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sourceBoost := 1.0
	phraseBoost := 1.0
	fuzzyEnabled := false
	fuzziness := 1
	if opts != nil {
		if opts.SourceBoost > 0 {
			sourceBoost = opts.SourceBoost
		}
		if opts.PhraseBoost > 0 {
			phraseBoost = opts.PhraseBoost
		}
		fuzzyEnabled = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if sourceBoost <= 1.0 && phraseBoost <= 1.0 {
		return b.searchSingle(query, limit, fuzzyEnabled, fuzziness)
	}
	return b.searchWithBoosts(query, limit, sourceBoost, phraseBoost, fuzzyEnabled, fuzziness)
}

func (b *BleveIndex) searchSingle(query string, limit int, fuzzyEnabled bool, fuzziness int) ([]Result, error) {
	var q blevequery.Query
	if fuzzyEnabled {
		q = buildFuzzyQuery(query, fuzziness, "")
	} else {
		q = bleve.NewMatchQuery(query)
	}
	search := bleve.NewSearchRequest(q)
	search.Size = limit
	search.Fields = storedFields
	results, err := b.index.Search(search)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]Result, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = resultFromFields(hit.ID, hit.Fields)
		out[i].Score = hit.Score
	}
	return out, nil
}

// searchWithBoosts scores each chunk as (source*sourceBoost + content) * coverage^2 * phrase,
// where coverage is the fraction of query terms the chunk matches.
func (b *BleveIndex) searchWithBoosts(query string, limit int, sourceBoost, phraseBoost float64, fuzzyEnabled bool, fuzziness int) ([]Result, error) {
	reqSize := max(limit*2, 50)
	terms := tokenizeQuery(query)
	numTerms := len(terms)

	var sourceQuery, contentQuery blevequery.Query
	if fuzzyEnabled {
		sourceQuery = buildFuzzyQuery(query, fuzziness, fieldSource)
		contentQuery = buildFuzzyQuery(query, fuzziness, fieldContent)
	} else {
		sq := bleve.NewMatchQuery(query)
		sq.SetField(fieldSource)
		sourceQuery = sq
		cq := bleve.NewMatchQuery(query)
		cq.SetField(fieldContent)
		contentQuery = cq
	}

	found := make(map[string]Result)
	sourceScores, err := b.scores(sourceQuery, reqSize, found)
	if err != nil {
		return nil, fmt.Errorf("Bleve source search failed: %w", err)
	}
	contentScores, err := b.scores(contentQuery, reqSize, found)
	if err != nil {
		return nil, fmt.Errorf("Bleve content search failed: %w", err)
	}

	coverage := make(map[string]int)
	if numTerms > 1 {
		coverage = b.termCoverage(terms, reqSize, fuzzyEnabled, fuzziness)
	}
	phraseMatches := make(map[string]bool)
	if phraseBoost > 1.0 && numTerms > 1 {
		phraseMatches = b.phraseMatches(query, reqSize)
	}

	merged := make([]Result, 0, len(found))
	for id, r := range found {
		score := sourceScores[id]*sourceBoost + contentScores[id]
		if numTerms > 1 {
			matched := max(coverage[id], 1)
			c := float64(matched) / float64(numTerms)
			score *= c * c
		}
		if phraseMatches[id] {
			score *= phraseBoost
		}
		r.Score = score
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ChunkID < merged[j].ChunkID
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

func (b *BleveIndex) scores(q blevequery.Query, size int, found map[string]Result) (map[string]float64, error) {
	req := bleve.NewSearchRequest(q)
	req.Size = size
	req.Fields = storedFields
	results, err := b.index.Search(req)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(results.Hits))
	for _, hit := range results.Hits {
		out[hit.ID] = hit.Score
		found[hit.ID] = resultFromFields(hit.ID, hit.Fields)
	}
	return out, nil
}

var storedFields = []string{fieldDocumentID, fieldSource, fieldContent}

func resultFromFields(id string, fields map[string]interface{}) Result {
	return Result{
		ChunkID:    id,
		DocumentID: fieldString(fields, fieldDocumentID),
		Source:     fieldString(fields, fieldSource),
		Text:       fieldString(fields, fieldContent),
	}
}

func fieldString(fields map[string]interface{}, name string) string {
	if v, ok := fields[name].(string); ok {
		return v
	}
	return ""
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildFuzzyQuery ORs a FuzzyQuery per term. An empty field searches all fields.
func buildFuzzyQuery(queryStr string, fuzziness int, field string) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	if len(terms) == 0 {
		mq := bleve.NewMatchQuery(queryStr)
		if field != "" {
			mq.SetField(field)
		}
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		if field != "" {
			fq.SetField(field)
		}
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// termCoverage counts how many query terms each chunk matches.
func (b *BleveIndex) termCoverage(terms []string, reqSize int, fuzzyEnabled bool, fuzziness int) map[string]int {
	coverage := make(map[string]int)
	for _, term := range terms {
		var q blevequery.Query
		if fuzzyEnabled {
			fq := bleve.NewFuzzyQuery(term)
			fq.SetFuzziness(fuzziness)
			q = fq
		} else {
			q = bleve.NewMatchQuery(term)
		}
		req := bleve.NewSearchRequest(q)
		req.Size = reqSize
		results, err := b.index.Search(req)
		if err != nil {
			continue
		}
		for _, hit := range results.Hits {
			coverage[hit.ID]++
		}
	}
	return coverage
}

// phraseMatches finds chunks where the query appears as a phrase in content or source.
func (b *BleveIndex) phraseMatches(query string, reqSize int) map[string]bool {
	matches := make(map[string]bool)
	for _, field := range []string{fieldContent, fieldSource} {
		pq := bleve.NewMatchPhraseQuery(query)
		pq.SetField(field)
		req := bleve.NewSearchRequest(pq)
		req.Size = reqSize
		results, err := b.index.Search(req)
		if err != nil {
			continue
		}
		for _, hit := range results.Hits {
			matches[hit.ID] = true
		}
	}
	return matches
}

// DeleteDocument removes every chunk whose document_id equals documentID.
func (b *BleveIndex) DeleteDocument(ctx context.Context, documentID string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		q := bleve.NewTermQuery(documentID)
		q.SetField(fieldDocumentID)
		req := bleve.NewSearchRequest(q)
		req.Size = deletePageSize
		results, err := b.index.Search(req)
		if err != nil {
			return fmt.Errorf("failed to find chunks of %s: %w", documentID, err)
		}
		if len(results.Hits) == 0 {
			return nil
		}
		batch := b.index.NewBatch()
		for _, hit := range results.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("failed to delete chunks of %s: %w", documentID, err)
		}
	}
}

// Clear drops the whole index and starts an empty one in its place.
func (b *BleveIndex) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.index.Close(); err != nil {
		return fmt.Errorf("failed to close Bleve index: %w", err)
	}
	if b.path != "" {
		if err := os.RemoveAll(b.path); err != nil {
			return fmt.Errorf("failed to remove Bleve index: %w", err)
		}
	}
	index, err := openBleve(b.path)
	if err != nil {
		return err
	}
	b.index = index
	return nil
}

// DocCount returns the number of indexed chunks.
func (b *BleveIndex) DocCount() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index.Close()
}
