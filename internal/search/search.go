package search

// Result is a single idea hit returned to the caller.
type Result struct {
	ID             string   `json:"id"`
	IdeaName       string   `json:"ideaName"`
	Snippet        string   `json:"snippet"`
	State          string   `json:"state"`
	ReadinessLevel string   `json:"readinessLevel"`
	Fields         []string `json:"fields"`
}

// Query describes a search request. FilterState narrows to one lifecycle
// stage; investors always search with state = Ready To Invest.
type Query struct {
	Text        string
	FilterState string
	FilterField string
	Limit       int
	Offset      int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over ideas.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// IdeaRecord is the data we index for an idea.
type IdeaRecord struct {
	ID             string   `json:"id"`
	IdeaName       string   `json:"ideaName"`
	Problem        string   `json:"problem"`
	Solution       string   `json:"solution"`
	Summary        string   `json:"summary"`
	State          string   `json:"state"`
	ReadinessLevel string   `json:"readinessLevel"`
	Fields         []string `json:"fields"`
}
