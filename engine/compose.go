package engine

import (
	"context"
	"sort"
)

// Unit is one document's contribution to a composed engine: its
// sub-index labeled with the document's id and annotated with the
// stored one-line summary.
type Unit struct {
	ID      string
	Summary string
	Sub     SubIndex
}

// SummaryRanker orders units by how relevant their summaries are to a
// query. The most relevant unit comes first.
type SummaryRanker interface {
	Rank(ctx context.Context, query string, units []Unit) ([]Unit, error)
}

// Result is one retrieved chunk attributed to its source document.
type Result struct {
	ID    string
	Text  string
	Score float32
}

// Response is the answer to one query. Answer is the text of the best
// scoring chunk; Results holds every retrieved chunk, best first.
type Response struct {
	Answer  string
	Results []Result
}

// QueryEngine answers natural-language queries over a fixed set of
// documents.
type QueryEngine interface {
	Query(ctx context.Context, text string) (Response, error)
}

type composed struct {
	ranker SummaryRanker
	units  []Unit
	topK   int
}

// Compose builds a hierarchical query engine over the given units.
// A query is first routed to the topK most relevant documents using
// their summaries, then answered from those documents' retrievers.
func Compose(ranker SummaryRanker, units []Unit, topK int) QueryEngine {
	return &composed{ranker: ranker, units: units, topK: topK}
}

func (c *composed) Query(ctx context.Context, text string) (Response, error) {
	if len(c.units) == 0 {
		return Response{}, nil
	}

	ranked, err := c.ranker.Rank(ctx, text, c.units)
	if err != nil {
		return Response{}, err
	}

	routed := ranked[:min(len(ranked), c.topK)]

	var results []Result
	for _, u := range routed {
		scored, err := u.Sub.Retriever(c.topK).Retrieve(ctx, text)
		if err != nil {
			return Response{}, err
		}

		for _, s := range scored {
			results = append(results, Result{
				ID:    u.ID,
				Text:  s.Text,
				Score: s.Score,
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score < results[j].Score
	})

	resp := Response{Results: results}
	if len(results) > 0 {
		resp.Answer = results[0].Text
	}

	return resp, nil
}
