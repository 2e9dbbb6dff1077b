package fetcher

import (
	"context"
	"fmt"

	"github.com/voyagen/techtube/internal/youtube"
)

// Fetcher turns a Searcher into paced, bounded page sequences.
type Fetcher struct {
	searcher youtube.Searcher
	pacer    Pacer
	maxPages int
}

// New returns a Fetcher that stops each query after maxPages pages.
func New(searcher youtube.Searcher, pacer Pacer, maxPages int) *Fetcher {
	if maxPages <= 0 {
		maxPages = 1
	}
	return &Fetcher{searcher: searcher, pacer: pacer, maxPages: maxPages}
}

// Fetch returns the lazy page sequence for q. Nothing is requested until the first Next.
func (f *Fetcher) Fetch(q youtube.Query) *Pages {
	return &Pages{f: f, q: q}
}

// Pages is a finite, non-restartable sequence of result pages for one query.
// Page 1 is requested immediately; each later page waits out the pacer delay measured from
// the previous page of the same query.
// Iteration ends at the last page, at the page ceiling, or on the first error.
//
//	pages := f.Fetch(q)
//	for pages.Next(ctx) {
//		use(pages.Page())
//	}
//	if err := pages.Err(); err != nil { ... }
type Pages struct {
	f         *Fetcher
	q         youtube.Query
	gate      Gate
	page      *youtube.Page
	index     int
	done      bool
	truncated bool
	err       error
}

// Next fetches the next page and reports whether one is available.
func (p *Pages) Next(ctx context.Context) bool {
	if p.done {
		return false
	}
	token := ""
	if p.index > 0 {
		token = p.page.NextPageToken
		if token == "" {
			p.done = true
			return false
		}
		if p.index >= p.f.maxPages {
			p.truncated = true
			p.done = true
			return false
		}
	} else {
		p.gate = p.f.pacer.Gate()
	}
	if err := p.gate.Wait(ctx); err != nil {
		p.fail(err)
		return false
	}

	page, err := p.f.searcher.Search(ctx, p.q, token)
	if err != nil {
		p.fail(err)
		return false
	}
	p.index++
	p.page = page
	return true
}

func (p *Pages) fail(err error) {
	p.err = fmt.Errorf("%s page %d: %w", p.q, p.index+1, err)
	p.done = true
}

// Page returns the page fetched by the last successful Next.
func (p *Pages) Page() *youtube.Page {
	return p.page
}

// Index is the 1-based number of the current page (0 before the first Next).
func (p *Pages) Index() int {
	return p.index
}

// Err returns the error that ended iteration, if any.
func (p *Pages) Err() error {
	return p.err
}

// Truncated reports whether iteration stopped at the page ceiling while more pages existed.
func (p *Pages) Truncated() bool {
	return p.truncated
}

// Query returns the query being paged.
func (p *Pages) Query() youtube.Query {
	return p.q
}
