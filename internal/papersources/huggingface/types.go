package huggingface

// DailyPaper is one entry of the daily papers listing.
type DailyPaper struct {
	Paper       Paper  `json:"paper"`
	PublishedAt string `json:"publishedAt"`
	Title       string `json:"title"`
	NumComments int    `json:"numComments"`
}

// Paper is the paper record nested in a daily entry. ID is the arXiv identifier.
type Paper struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	Authors     []Author `json:"authors"`
	PublishedAt string   `json:"publishedAt"`
	Upvotes     int      `json:"upvotes"`
}

type Author struct {
	Name   string `json:"name"`
	Hidden bool   `json:"hidden"`
}
