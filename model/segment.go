package model

// Segment is one page of extracted document text
type Segment struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}
