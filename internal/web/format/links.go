package format

import (
	"github.com/conduit-lang/resourcekit/pkg/query"
)

// pageLinks renders self plus first/last/prev/next links for a paged list.
// Navigation links are only rendered when the total is known.
func (f *Formatter) pageLinks(q *query.Query, total, limit *int) *Links {
	links := &Links{Self: f.conv.Make(q)}
	if total == nil {
		return links
	}

	l := 0
	if limit != nil {
		l = *limit
	}
	pages := f.conv.Pages().GetPages(q.P().Page, *total, l)

	links.First = f.withPage(q, pages.First)
	links.Last = f.withPage(q, pages.Last)
	links.Prev = f.withPage(q, pages.Prev)
	links.Next = f.withPage(q, pages.Next)
	return links
}

// withPage renders q with its page parameter replaced
func (f *Formatter) withPage(q *query.Query, page any) string {
	if page == nil {
		return ""
	}
	params := *q.P()
	params.Page = page
	return f.conv.Make(&query.Query{Ref: q.Ref, Params: &params})
}
