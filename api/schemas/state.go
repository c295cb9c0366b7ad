package schemas

// ElementSummary is the trimmed description of one interactive element.
type ElementSummary struct {
	Tag       string            `json:"tag"`
	Text      string            `json:"text,omitempty"`
	Clickable bool              `json:"clickable"`
	Attrs     map[string]string `json:"attributes,omitempty"`
}

// UiState is a snapshot of what the page currently shows.
type UiState struct {
	URL      string           `json:"url"`
	Title    string           `json:"title"`
	Elements []ElementSummary `json:"elements,omitempty"`
}
