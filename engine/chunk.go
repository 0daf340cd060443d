package engine

// Chunker splits text into overlapping chunks before embedding.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &Chunker{size: size, overlap: overlap}
}

func (c *Chunker) Chunk(text string) []string {
	l := len(text)
	if l == 0 {
		return []string{}
	}

	step := c.size - c.overlap
	pos := 0
	res := make([]string, 0, l/step+1)

	for {
		end := min(pos+c.size, l)
		res = append(res, text[pos:end])
		if end >= l {
			break
		}

		pos += step
	}

	return res
}
