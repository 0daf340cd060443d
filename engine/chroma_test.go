package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCollection stands in for a chroma collection. Embedding the
// interface keeps the fake small; only the methods the engine calls
// are implemented, anything else panics on use.
type fakeCollection struct {
	chroma.Collection

	addCalls    int
	deleteCalls int
	queryCalls  int
	results     []*fakeQueryResult
	queryErr    error
}

func (c *fakeCollection) Add(ctx context.Context, opts ...chroma.CollectionAddOption) error {
	c.addCalls++
	return nil
}

func (c *fakeCollection) Delete(ctx context.Context, opts ...chroma.CollectionDeleteOption) error {
	c.deleteCalls++
	return nil
}

func (c *fakeCollection) Query(ctx context.Context, opts ...chroma.CollectionQueryOption) (chroma.QueryResult, error) {
	if c.queryErr != nil {
		return nil, c.queryErr
	}

	i := c.queryCalls
	c.queryCalls++
	if i >= len(c.results) {
		return &fakeQueryResult{}, nil
	}

	return c.results[i], nil
}

type fakeQueryResult struct {
	chroma.QueryResult

	docs      []string
	distances []float32
}

func (r *fakeQueryResult) GetDocumentsGroups() []chroma.Documents {
	if r.docs == nil {
		return nil
	}

	docs := make(chroma.Documents, 0, len(r.docs))
	for _, d := range r.docs {
		docs = append(docs, fakeDocument{content: d})
	}

	return []chroma.Documents{docs}
}

func (r *fakeQueryResult) GetDistancesGroups() []embeddings.Distances {
	if r.distances == nil {
		return nil
	}

	ds := make(embeddings.Distances, 0, len(r.distances))
	for _, d := range r.distances {
		ds = append(ds, embeddings.Distance(d))
	}

	return []embeddings.Distances{ds}
}

type fakeDocument struct {
	chroma.Document

	content string
}

func (d fakeDocument) ContentString() string { return d.content }

func testChromaEngine(docs, sums *fakeCollection, chunkSize, requestSize int) *ChromaEngine {
	return &ChromaEngine{
		docs:        docs,
		sums:        sums,
		chunker:     NewChunker(chunkSize, 0),
		requestSize: requestSize,
	}
}

func Test_BuildIndex_StoresChunks(t *testing.T) {
	docs := &fakeCollection{}
	e := testChromaEngine(docs, &fakeCollection{}, 1000, 0)

	sub, err := e.BuildIndex(context.Background(), "id1", "hello world")
	require.NoError(t, err)

	assert.Equal(t, "id1", sub.ID())
	assert.Equal(t, 1, docs.deleteCalls)
	assert.Equal(t, 1, docs.addCalls)
	assert.Equal(t, []string{"hello world"}, sub.(*chromaSub).chunks)
}

func Test_BuildIndex_SplitsToBuckets(t *testing.T) {
	docs := &fakeCollection{}
	e := testChromaEngine(docs, &fakeCollection{}, 1000, 13)

	chunks := []string{"Bananas", "are", "berries", "but", "strawberries", "aren't"}
	buckets := e.batches(chunks)
	require.Len(t, buckets, 4)
	assert.Equal(t, []string{"Bananas", "are"}, buckets[0])
	assert.Equal(t, []string{"berries", "but"}, buckets[1])
	assert.Equal(t, []string{"strawberries"}, buckets[2])
	assert.Equal(t, []string{"aren't"}, buckets[3])
}

func Test_BuildIndex_NoRequestLimit(t *testing.T) {
	e := testChromaEngine(&fakeCollection{}, &fakeCollection{}, 1000, 0)

	buckets := e.batches([]string{"a", "b", "c"})
	assert.Equal(t, [][]string{{"a", "b", "c"}}, buckets)
}

func Test_BuildIndex_EmptyText(t *testing.T) {
	e := testChromaEngine(&fakeCollection{}, &fakeCollection{}, 1000, 0)

	_, err := e.BuildIndex(context.Background(), "id1", "")
	assert.Error(t, err)
}

func Test_Retrieve_MapsDocumentsToScores(t *testing.T) {
	docs := &fakeCollection{results: []*fakeQueryResult{{
		docs:      []string{"venus is the second planet", "venus has no moons"},
		distances: []float32{0.2, 0.7},
	}}}
	e := testChromaEngine(docs, &fakeCollection{}, 1000, 0)

	sub := &chromaSub{eng: e, id: "f1"}
	scored, err := sub.Retriever(2).Retrieve(context.Background(), "venus")
	require.NoError(t, err)

	require.Len(t, scored, 2)
	assert.Equal(t, Scored{Text: "venus is the second planet", Score: 0.2}, scored[0])
	assert.Equal(t, Scored{Text: "venus has no moons", Score: 0.7}, scored[1])
}

func Test_Retrieve_EmptyResult(t *testing.T) {
	docs := &fakeCollection{}
	e := testChromaEngine(docs, &fakeCollection{}, 1000, 0)

	sub := &chromaSub{eng: e, id: "f1"}
	scored, err := sub.Retriever(2).Retrieve(context.Background(), "venus")
	require.NoError(t, err)
	assert.Empty(t, scored)
}

func Test_Summarize_UpsertsFirstLine(t *testing.T) {
	sums := &fakeCollection{}
	e := testChromaEngine(&fakeCollection{}, sums, 1000, 0)

	sub := &chromaSub{eng: e, id: "s1", chunks: []string{"Venus overview\nmore detail"}}
	summary, err := e.Summarize(context.Background(), sub)
	require.NoError(t, err)

	assert.Equal(t, "Venus overview", summary)
	assert.Equal(t, 1, sums.deleteCalls)
	assert.Equal(t, 1, sums.addCalls)
}

func Test_Summarize_RestoredSubHasNoText(t *testing.T) {
	e := testChromaEngine(&fakeCollection{}, &fakeCollection{}, 1000, 0)

	_, err := e.Summarize(context.Background(), &chromaSub{eng: e, id: "s1"})
	assert.Error(t, err)
}

// Ranking must stay within the given units: each one is scored by its
// own scoped query, so summaries of documents outside the engine's
// scope can never displace an in-scope unit.
func Test_Rank_ScopedToUnits(t *testing.T) {
	sums := &fakeCollection{results: []*fakeQueryResult{
		{distances: []float32{0.9}},
		{distances: []float32{0.1}},
		{distances: []float32{0.4}},
	}}
	e := testChromaEngine(&fakeCollection{}, sums, 1000, 0)

	units := []Unit{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	ranked, err := e.Rank(context.Background(), "query", units)
	require.NoError(t, err)

	assert.Equal(t, 3, sums.queryCalls)
	require.Len(t, ranked, 3)
	assert.Equal(t, "b", ranked[0].ID)
	assert.Equal(t, "c", ranked[1].ID)
	assert.Equal(t, "a", ranked[2].ID)
}

func Test_Rank_MissingSummariesKeepOrderAtTail(t *testing.T) {
	sums := &fakeCollection{results: []*fakeQueryResult{
		{},
		{distances: []float32{0.3}},
		{},
	}}
	e := testChromaEngine(&fakeCollection{}, sums, 1000, 0)

	units := []Unit{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	ranked, err := e.Rank(context.Background(), "query", units)
	require.NoError(t, err)

	require.Len(t, ranked, 3)
	assert.Equal(t, "b", ranked[0].ID)
	assert.Equal(t, "a", ranked[1].ID)
	assert.Equal(t, "c", ranked[2].ID)
}

func Test_Rank_QueryError(t *testing.T) {
	sums := &fakeCollection{queryErr: errors.New("connection refused")}
	e := testChromaEngine(&fakeCollection{}, sums, 1000, 0)

	_, err := e.Rank(context.Background(), "query", []Unit{{ID: "a"}})
	assert.Error(t, err)
}

func Test_Rank_Empty(t *testing.T) {
	e := testChromaEngine(&fakeCollection{}, &fakeCollection{}, 1000, 0)

	ranked, err := e.Rank(context.Background(), "query", nil)
	require.NoError(t, err)
	assert.Empty(t, ranked)
}

func Test_PersistRestore_Roundtrip(t *testing.T) {
	e := testChromaEngine(&fakeCollection{}, &fakeCollection{}, 1000, 0)
	folder := filepath.Join(t.TempDir(), "index")

	sub := &chromaSub{eng: e, id: "p1", chunks: []string{"x", "y"}}
	require.NoError(t, e.Persist(sub, folder))

	restored, err := e.Restore(folder)
	require.NoError(t, err)
	assert.Equal(t, "p1", restored.ID())
}

func Test_Restore_NotPersisted(t *testing.T) {
	e := testChromaEngine(&fakeCollection{}, &fakeCollection{}, 1000, 0)

	_, err := e.Restore(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrNotPersisted)
}

func Test_Drop_ClearsBothCollections(t *testing.T) {
	docs := &fakeCollection{}
	sums := &fakeCollection{}
	e := testChromaEngine(docs, sums, 1000, 0)

	require.NoError(t, e.Drop(context.Background(), "id1"))
	assert.Equal(t, 1, docs.deleteCalls)
	assert.Equal(t, 1, sums.deleteCalls)
}

func Test_FirstLine(t *testing.T) {
	assert.Equal(t, "hello", firstLine("  hello\nworld"))
	assert.Equal(t, "hello", firstLine("hello"))
	assert.Equal(t, "", firstLine("\n\n"))
}

func Test_FirstLine_TruncatesAtRuneBoundary(t *testing.T) {
	line := firstLine(strings.Repeat("€", 100))

	assert.True(t, utf8.ValidString(line))
	assert.LessOrEqual(t, len(line), maxSummaryLen)
	assert.Equal(t, 66, utf8.RuneCountInString(line))
}
