package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultProposal ResultType = "proposal"
	ResultPost     ResultType = "post"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	SpaceURL string     `json:"spaceUrl"`
}

// Query describes a search request.
type Query struct {
	Text     string
	Type     ResultType // empty = all types
	SpaceURL string
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// ProposalRecord is the data we index for a proposal.
type ProposalRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	SpaceURL string `json:"spaceUrl"`
}

// PostRecord is the data we index for a news post.
type PostRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	SpaceURL    string `json:"spaceUrl"`
}
