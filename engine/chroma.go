package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
)

const DocID = "doc_id"

const summarySuffix = "_summaries"

// maxSummaryLen bounds the one-line summary derived from a document's
// leading text.
const maxSummaryLen = 200

type ChromaConfig struct {
	BaseURL       string
	Collection    string
	EmbeddingFunc embeddings.EmbeddingFunction
	ChunkSize     int
	ChunkOverlap  int
	RequestSize   int
	Reset         bool
}

// ChromaEngine stores every document's chunks in one Chroma collection,
// keyed by a doc_id metadata attribute, and keeps a parallel collection
// of one-line summaries used as the routing signal for composed queries.
type ChromaEngine struct {
	docs        chroma.Collection
	sums        chroma.Collection
	chunker     *Chunker
	requestSize int
}

var _ Engine = (*ChromaEngine)(nil)

func NewChromaEngine(ctx context.Context, cfg ChromaConfig) (*ChromaEngine, error) {
	client, err := chroma.NewHTTPClient(chroma.WithBaseURL(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create chroma client: %w", err)
	}

	if cfg.Reset {
		// Best effort: the collections may not exist yet.
		for _, name := range []string{cfg.Collection, cfg.Collection + summarySuffix} {
			_ = client.DeleteCollection(ctx, name)
		}
	}

	docs, err := client.GetOrCreateCollection(ctx, cfg.Collection,
		chroma.WithEmbeddingFunctionCreate(cfg.EmbeddingFunc))
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %s: %w", cfg.Collection, err)
	}

	sums, err := client.GetOrCreateCollection(ctx, cfg.Collection+summarySuffix,
		chroma.WithEmbeddingFunctionCreate(cfg.EmbeddingFunc))
	if err != nil {
		return nil, fmt.Errorf("failed to open summary collection: %w", err)
	}

	return &ChromaEngine{
		docs:        docs,
		sums:        sums,
		chunker:     NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		requestSize: cfg.RequestSize,
	}, nil
}

type chromaSub struct {
	eng *ChromaEngine
	id  string

	// chunks are only held for a sub-index built in this process; a
	// restored handle's chunks live in the collection.
	chunks []string
}

func (s *chromaSub) ID() string { return s.id }

func (s *chromaSub) Retriever(topK int) Retriever {
	return &chromaRetriever{eng: s.eng, id: s.id, topK: topK}
}

type chromaRetriever struct {
	eng  *ChromaEngine
	id   string
	topK int
}

func (r *chromaRetriever) Retrieve(ctx context.Context, query string) ([]Scored, error) {
	qr, err := r.eng.docs.Query(ctx,
		chroma.WithQueryTexts(query),
		chroma.WithNResults(r.topK),
		chroma.WithWhereQuery(chroma.EqString(DocID, r.id)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve chunks: %w", err)
	}

	groups := qr.GetDocumentsGroups()
	if len(groups) == 0 {
		return nil, nil
	}

	docs := groups[0]
	scores := qr.GetDistancesGroups()[0]
	res := make([]Scored, 0, len(docs))
	for i := range docs {
		res = append(res, Scored{
			Text:  docs[i].ContentString(),
			Score: float32(scores[i]),
		})
	}

	return res, nil
}

func (e *ChromaEngine) BuildIndex(ctx context.Context, id string, text string) (SubIndex, error) {
	chunks := e.chunker.Chunk(text)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no chunks produced for document %s", id)
	}

	// Rebuilds overwrite: clear whatever a previous build stored under this id.
	err := e.docs.Delete(ctx, chroma.WithWhereDelete(chroma.EqString(DocID, id)))
	if err != nil {
		return nil, fmt.Errorf("failed to clear previous chunks for %s: %w", id, err)
	}

	for _, batch := range e.batches(chunks) {
		metas := make([]chroma.DocumentMetadata, 0, len(batch))
		for range batch {
			metas = append(metas, chroma.NewDocumentMetadata(chroma.NewStringAttribute(DocID, id)))
		}

		err = e.docs.Add(ctx,
			chroma.WithTexts(batch...),
			chroma.WithIDGenerator(chroma.NewULIDGenerator()),
			chroma.WithMetadatas(metas...),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to add chunks for %s: %w", id, err)
		}
	}

	return &chromaSub{eng: e, id: id, chunks: chunks}, nil
}

// batches splits chunks so that no single add request exceeds the
// configured request size in bytes.
func (e *ChromaEngine) batches(chunks []string) [][]string {
	if e.requestSize <= 0 {
		return [][]string{chunks}
	}

	var out [][]string
	var cur []string
	curSize := 0
	for _, c := range chunks {
		if len(cur) > 0 && curSize+len(c) > e.requestSize {
			out = append(out, cur)
			cur = nil
			curSize = 0
		}

		cur = append(cur, c)
		curSize += len(c)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}

	return out
}

func (e *ChromaEngine) Summarize(ctx context.Context, sub SubIndex) (string, error) {
	cs, ok := sub.(*chromaSub)
	if !ok || len(cs.chunks) == 0 {
		return "", fmt.Errorf("cannot summarize sub-index %s: no source text", sub.ID())
	}

	summary := firstLine(cs.chunks[0])

	err := e.sums.Delete(ctx, chroma.WithWhereDelete(chroma.EqString(DocID, cs.id)))
	if err != nil {
		return "", fmt.Errorf("failed to clear previous summary for %s: %w", cs.id, err)
	}

	err = e.sums.Add(ctx,
		chroma.WithTexts(summary),
		chroma.WithIDGenerator(chroma.NewULIDGenerator()),
		chroma.WithMetadatas(chroma.NewDocumentMetadata(chroma.NewStringAttribute(DocID, cs.id))),
	)
	if err != nil {
		return "", fmt.Errorf("failed to store summary for %s: %w", cs.id, err)
	}

	return summary, nil
}

func firstLine(text string) string {
	line := strings.TrimSpace(text)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if len(line) > maxSummaryLen {
		cut := maxSummaryLen
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		line = strings.TrimSpace(line[:cut])
	}

	return line
}

type chromaManifest struct {
	ID     string `json:"id"`
	Chunks int    `json:"chunks"`
}

func (e *ChromaEngine) Persist(sub SubIndex, folder string) error {
	cs, ok := sub.(*chromaSub)
	if !ok {
		return fmt.Errorf("cannot persist foreign sub-index %s", sub.ID())
	}

	if err := os.MkdirAll(folder, 0o755); err != nil {
		return fmt.Errorf("failed to create index folder: %w", err)
	}

	raw, err := json.MarshalIndent(chromaManifest{ID: cs.id, Chunks: len(cs.chunks)}, "", "    ")
	if err != nil {
		return err
	}

	err = os.WriteFile(filepath.Join(folder, "manifest.json"), raw, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write index manifest: %w", err)
	}

	return nil
}

func (e *ChromaEngine) Restore(folder string) (SubIndex, error) {
	raw, err := os.ReadFile(filepath.Join(folder, "manifest.json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotPersisted
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index manifest: %w", err)
	}

	var m chromaManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse index manifest: %w", err)
	}

	return &chromaSub{eng: e, id: m.ID}, nil
}

func (e *ChromaEngine) Drop(ctx context.Context, id string) error {
	err := e.docs.Delete(ctx, chroma.WithWhereDelete(chroma.EqString(DocID, id)))
	if err != nil {
		return fmt.Errorf("failed to drop chunks for %s: %w", id, err)
	}

	err = e.sums.Delete(ctx, chroma.WithWhereDelete(chroma.EqString(DocID, id)))
	if err != nil {
		return fmt.Errorf("failed to drop summary for %s: %w", id, err)
	}

	return nil
}

// Rank orders units by the distance between the query and each unit's
// stored summary. The summaries collection is shared across scopes, so
// every unit gets its own query constrained to its id; this keeps
// routing correct for engines scoped to a file or folder subset. Units
// without a stored summary keep their incoming order at the tail.
func (e *ChromaEngine) Rank(ctx context.Context, query string, units []Unit) ([]Unit, error) {
	if len(units) == 0 {
		return nil, nil
	}

	type scoredUnit struct {
		unit Unit
		dist float32
		ok   bool
	}

	scored := make([]scoredUnit, 0, len(units))
	for _, u := range units {
		qr, err := e.sums.Query(ctx,
			chroma.WithQueryTexts(query),
			chroma.WithNResults(1),
			chroma.WithWhereQuery(chroma.EqString(DocID, u.ID)),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to rank summary for %s: %w", u.ID, err)
		}

		su := scoredUnit{unit: u}
		if groups := qr.GetDistancesGroups(); len(groups) > 0 && len(groups[0]) > 0 {
			su.dist = float32(groups[0][0])
			su.ok = true
		}

		scored = append(scored, su)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].ok != scored[j].ok {
			return scored[i].ok
		}
		return scored[i].dist < scored[j].dist
	})

	ranked := make([]Unit, 0, len(scored))
	for _, s := range scored {
		ranked = append(ranked, s.unit)
	}

	return ranked, nil
}
