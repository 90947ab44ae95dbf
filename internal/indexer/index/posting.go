package index

// Posting records how often, and where, a term occurs in one document.
type Posting struct {
	DocID     string
	Frequency int
	Positions []int
}

type PostingList []Posting

// Stats summarises a snapshot.
type Stats struct {
	Documents       int     `json:"documents"`
	Terms           int     `json:"terms"`
	TotalLength     int64   `json:"total_length"`
	AvgDocLength    float64 `json:"avg_doc_length"`
	LongestDocument int     `json:"longest_document"`
}
