package chunker

// Chunk is the unit of text that gets embedded and retrieved.
type Chunk struct {
	Text     string
	Metadata Metadata
}

// Metadata carries positional information used for citations.
type Metadata struct {
	Source  string // basename of the source document
	ChunkID int    // document order, starting at 0
	Article int    // parsed article number, valid when HasArticle is set
	Section string // heading or article title, optional

	HasArticle bool
}

// Chunker splits the content of one document into ordered chunks.
type Chunker interface {
	Chunk(content, source string) ([]Chunk, error)

	// Name is used in logs and in the index manifest.
	Name() string
}

// Config holds the parameters shared by all chunkers.
type Config struct {
	ChunkSize    int      // maximum chunk length in runes
	ChunkOverlap int      // runes shared by adjacent chunks
	Separators   []string // boundary preference, highest first
	Keyword      string   // article marker keyword, e.g. "Статья"
	Pattern      string   // optional regexp overriding the keyword marker
}

// DefaultSeparators is the boundary preference of the sliding-window splitter:
// paragraph break, line break, sentence end, space.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " "}

const (
	DefaultChunkSize    = 400
	DefaultChunkOverlap = 50
	DefaultKeyword      = "Статья"
)

// DefaultConfig returns the defaults used for the HR policy corpus.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
		Separators:   DefaultSeparators,
		Keyword:      DefaultKeyword,
	}
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = 0
	}
	if len(c.Separators) == 0 {
		c.Separators = DefaultSeparators
	}
	if c.Keyword == "" {
		c.Keyword = DefaultKeyword
	}
	return c
}
