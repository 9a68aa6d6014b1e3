package arxiv

import (
	"encoding/xml"
	"strings"
)

// atomFeed is the part of the arXiv Atom response the client reads.
type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string `xml:"id"` // http://arxiv.org/abs/2301.12345v1
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	DOI       string `xml:"doi"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Links []struct {
		Href  string `xml:"href,attr"`
		Type  string `xml:"type,attr"`
		Title string `xml:"title,attr"`
	} `xml:"link"`
}

// authorNames returns the non-blank author names in feed order.
func (e *atomEntry) authorNames() []string {
	var names []string
	for _, a := range e.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// pdfLink returns the entry's PDF link, or the canonical one for id.
func (e *atomEntry) pdfLink(id string) string {
	for _, link := range e.Links {
		if link.Title == "pdf" || link.Type == "application/pdf" {
			return link.Href
		}
	}
	return "https://arxiv.org/pdf/" + id
}
