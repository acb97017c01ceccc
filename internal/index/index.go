// Package index keeps an in-memory full-text index of workspace
// declarations for workspace symbol search.
package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	logging "github.com/op/go-logging"

	"github.com/mvp-joe/cortex-lsp/internal/ast"
	"github.com/mvp-joe/cortex-lsp/internal/document"
	"github.com/mvp-joe/cortex-lsp/internal/feature"
	"github.com/mvp-joe/cortex-lsp/internal/symbols"
)

var log = logging.MustGetLogger("index")

// DefaultLimit is the number of hits returned when a search sets no limit.
const DefaultLimit = 50

// Symbol is one indexed declaration.
type Symbol struct {
	Name      string           `json:"name"`
	Kind      feature.ItemKind `json:"kind"`
	URI       string           `json:"uri"`
	Version   int              `json:"version"`
	Language  string           `json:"language"`
	Container string           `json:"container,omitempty"`
	Range     document.Range   `json:"range"`
}

// Hit is a search result.
type Hit struct {
	Symbol
	Score float64 `json:"score"`
}

// SearchOptions narrows a search. The zero value matches every kind and
// language and returns DefaultLimit hits.
type SearchOptions struct {
	Kind     feature.ItemKind
	Language string
	Limit    int
}

// Index is the workspace symbol index.
type Index struct {
	index bleve.Index

	mu       sync.RWMutex
	versions map[string]int
	docs     map[string][]string
}

// New creates an empty in-memory index.
func New() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create bleve index: %w", err)
	}
	return &Index{
		index:    idx,
		versions: make(map[string]int),
		docs:     make(map[string][]string),
	}, nil
}

// buildMapping indexes names twice: lowercased as a single keyword for
// prefix and substring matching, and through the standard analyzer so that
// words inside snake_case and dotted names match.
func buildMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()

	keyword := func(store bool) *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = "keyword"
		fm.Store = store
		fm.Index = true
		return fm
	}

	words := bleve.NewTextFieldMapping()
	words.Analyzer = "standard"
	words.Store = false
	words.Index = true

	stored := bleve.NewTextFieldMapping()
	stored.Store = true
	stored.Index = false

	number := bleve.NewNumericFieldMapping()
	number.Store = true
	number.Index = false

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("name", keyword(true))
	docMapping.AddFieldMappingsAt("name_lower", keyword(false))
	docMapping.AddFieldMappingsAt("name_words", words)
	docMapping.AddFieldMappingsAt("kind", keyword(true))
	docMapping.AddFieldMappingsAt("language", keyword(true))
	docMapping.AddFieldMappingsAt("uri", stored)
	docMapping.AddFieldMappingsAt("container", stored)
	for _, f := range []string{"version", "start_line", "start_character", "end_line", "end_character"} {
		docMapping.AddFieldMappingsAt(f, number)
	}

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// Update replaces the symbols of the table's file. Tables older than the
// indexed version of the file are ignored.
func (x *Index) Update(ctx context.Context, tbl *symbols.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	if v, ok := x.versions[tbl.URI()]; ok && v > tbl.Version() {
		return nil
	}

	batch := x.index.NewBatch()
	for _, id := range x.docs[tbl.URI()] {
		batch.Delete(id)
	}

	var ids []string
	for _, sym := range Symbols(tbl) {
		id := fmt.Sprintf("%s#%d", sym.URI, len(ids))
		if err := batch.Index(id, toDocument(sym)); err != nil {
			return fmt.Errorf("failed to add symbol %s to batch: %w", sym.Name, err)
		}
		ids = append(ids, id)
	}
	if err := x.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}

	x.versions[tbl.URI()] = tbl.Version()
	x.docs[tbl.URI()] = ids
	log.Debugf("indexed %s v%d: %d symbols", tbl.URI(), tbl.Version(), len(ids))
	return nil
}

// Remove drops every symbol of a file.
func (x *Index) Remove(uri string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	ids, ok := x.docs[uri]
	if !ok {
		return nil
	}
	batch := x.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := x.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	delete(x.docs, uri)
	delete(x.versions, uri)
	return nil
}

// Len returns the number of indexed symbols.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	n := 0
	for _, ids := range x.docs {
		n += len(ids)
	}
	return n
}

// Files returns the indexed uris, sorted.
func (x *Index) Files() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]string, 0, len(x.docs))
	for uri := range x.docs {
		out = append(out, uri)
	}
	sort.Strings(out)
	return out
}

// Search finds symbols whose name starts with, contains or has a word
// matching q. Exact and prefix matches rank first. An empty q matches
// every symbol.
func (x *Index) Search(ctx context.Context, q string, opts SearchOptions) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	var queries []query.Query
	if q = strings.TrimSpace(q); q != "" {
		lower := strings.ToLower(q)

		exact := bleve.NewTermQuery(lower)
		exact.SetField("name_lower")
		exact.SetBoost(8)

		prefix := bleve.NewPrefixQuery(lower)
		prefix.SetField("name_lower")
		prefix.SetBoost(4)

		word := bleve.NewMatchQuery(q)
		word.SetField("name_words")

		alternatives := []query.Query{exact, prefix, word}
		if !strings.ContainsAny(lower, "*?") {
			contains := bleve.NewWildcardQuery("*" + lower + "*")
			contains.SetField("name_lower")
			alternatives = append(alternatives, contains)
		}
		queries = append(queries, bleve.NewDisjunctionQuery(alternatives...))
	} else {
		queries = append(queries, bleve.NewMatchAllQuery())
	}
	if opts.Kind != "" {
		kind := bleve.NewTermQuery(string(opts.Kind))
		kind.SetField("kind")
		queries = append(queries, kind)
	}
	if opts.Language != "" {
		language := bleve.NewTermQuery(opts.Language)
		language.SetField("language")
		queries = append(queries, language)
	}

	var final query.Query = queries[0]
	if len(queries) > 1 {
		final = bleve.NewConjunctionQuery(queries...)
	}

	req := bleve.NewSearchRequestOptions(final, limit, 0, false)
	req.Fields = []string{"name", "kind", "language", "uri", "container", "version",
		"start_line", "start_character", "end_line", "end_character"}
	req.SortBy([]string{"-_score", "name", "_id"})

	x.mu.RLock()
	res, err := x.index.Search(req)
	x.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("bleve search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{Symbol: fromFields(h.Fields), Score: h.Score})
	}
	return hits, nil
}

// Close releases the index.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.index.Close()
}

// Symbols lists the declarations of a table worth searching for: every
// declaration except parameters and import bindings, in document order.
func Symbols(tbl *symbols.Table) []Symbol {
	a := tbl.Ast()
	var out []Symbol
	for _, d := range tbl.Decls() {
		if d.IsImport() || d.Kind == ast.KindParameter || d.Name == "" {
			continue
		}
		out = append(out, Symbol{
			Name:      d.Name,
			Kind:      feature.KindOf(d.Kind),
			URI:       tbl.URI(),
			Version:   tbl.Version(),
			Language:  tbl.Language(),
			Container: containerOf(tbl, d),
			Range:     a.Range(d.Span),
		})
	}
	return out
}

func containerOf(tbl *symbols.Table, d symbols.Decl) string {
	for s := d.Scope; s != symbols.NoScope; s = tbl.Scope(s).Parent {
		scope := tbl.Scope(s)
		if scope.Kind == ast.KindFunction || scope.Kind == ast.KindClass {
			return tbl.Ast().Node(scope.Node).Name
		}
	}
	return ""
}

func toDocument(s Symbol) map[string]interface{} {
	return map[string]interface{}{
		"name":            s.Name,
		"name_lower":      strings.ToLower(s.Name),
		"name_words":      splitWords(s.Name),
		"kind":            string(s.Kind),
		"language":        s.Language,
		"uri":             s.URI,
		"container":       s.Container,
		"version":         s.Version,
		"start_line":      s.Range.Start.Line,
		"start_character": s.Range.Start.Character,
		"end_line":        s.Range.End.Line,
		"end_character":   s.Range.End.Character,
	}
}

func fromFields(fields map[string]interface{}) Symbol {
	str := func(k string) string {
		s, _ := fields[k].(string)
		return s
	}
	num := func(k string) int {
		f, _ := fields[k].(float64)
		return int(f)
	}
	return Symbol{
		Name:      str("name"),
		Kind:      feature.ItemKind(str("kind")),
		URI:       str("uri"),
		Version:   num("version"),
		Language:  str("language"),
		Container: str("container"),
		Range: document.Range{
			Start: document.Position{Line: num("start_line"), Character: num("start_character")},
			End:   document.Position{Line: num("end_line"), Character: num("end_character")},
		},
	}
}

// splitWords breaks camelCase and snake_case names into space separated
// words for the standard analyzer.
func splitWords(name string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range name {
		switch {
		case r == '_' || r == '$' || r == '.':
			b.WriteByte(' ')
			prevLower = false
			continue
		case r >= 'A' && r <= 'Z' && prevLower:
			b.WriteByte(' ')
		}
		b.WriteRune(r)
		prevLower = r >= 'a' && r <= 'z' || r >= '0' && r <= '9'
	}
	return b.String()
}
