package labs

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/signalsfoundry/reactive-labs/internal/fetch"
	"github.com/signalsfoundry/reactive-labs/internal/logsink"
	"github.com/signalsfoundry/reactive-labs/internal/projection"
	"github.com/signalsfoundry/reactive-labs/internal/scenario"
	"github.com/signalsfoundry/reactive-labs/internal/sched"
)

// errPayload is returned when the posts API answers with something other than a list.
var errPayload = errors.New("unexpected posts payload")

// SearchError ends a search run whose request failed.
type SearchError struct {
	Term string
	Err  error
}

func (e *SearchError) Error() string { return fmt.Sprintf("Search error: %v", e.Err) }

func (e *SearchError) Unwrap() error { return e.Err }

// Search debounces typed terms, drops repeats and keeps only the latest
// request in flight: a new term aborts the previous request.
type Search struct {
	base
	cfg     SearchConfig
	fetcher fetch.Fetcher
	baseURL string

	debounce sched.Handle
	typed    string
	last     string
	searched bool
	inflight fetch.Cancel
	seq      int
	release  func()
}

func NewSearch(cfg SearchConfig, f fetch.Fetcher, baseURL string) *Search {
	return &Search{
		base:    base{"search", "Debounced search with switchMap cancellation"},
		cfg:     cfg,
		fetcher: f,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (l *Search) Projector() projection.Projector {
	return projection.PostTitle{MaxTitle: l.cfg.MaxTitle}
}

func (l *Search) Commands() []string { return []string{"input", "complete"} }

func (l *Search) Command(r *scenario.Run, name, arg string) (any, error) {
	switch name {
	case "input":
		l.input(r, arg)
	case "complete":
		if l.release != nil {
			l.release()
			l.release = nil
		}
		r.Log(logsink.KindCompletion, "Search stream completed")
	default:
		return nil, scenario.ErrUnknownCommand
	}
	return nil, nil
}

func (l *Search) Plan(r *scenario.Run) error {
	if l.fetcher == nil {
		return errors.New("search: no fetcher configured")
	}
	l.debounce = sched.Handle{}
	l.typed, l.last, l.searched = "", "", false
	l.inflight = nil
	l.release = nil

	if len(l.cfg.Script) == 0 {
		l.release = r.Hold()
		r.Info("Waiting for input")
		return nil
	}
	for _, in := range l.cfg.Script {
		r.After(in.At, func(r *scenario.Run) (any, error) {
			l.input(r, in.Value)
			return nil, nil
		})
	}
	return nil
}

func (l *Search) input(r *scenario.Run, term string) {
	l.typed = term
	r.Stop(l.debounce)
	l.debounce = r.After(l.cfg.Debounce, l.search)
}

func (l *Search) search(r *scenario.Run) (any, error) {
	term := l.typed
	if l.searched && term == l.last {
		return nil, nil
	}
	l.searched, l.last = true, term
	r.Info(`Searching for: "` + term + `"`)

	if l.inflight != nil {
		cancel := l.inflight
		l.inflight = nil
		cancel()
		r.Warn("Previous request cancelled via switchMap")
	}
	l.seq++
	seq := l.seq

	if strings.TrimSpace(term) == "" {
		r.ReplaceResults()
		r.Info("Found 0 results")
		return nil, nil
	}

	target := l.baseURL + "/posts?q=" + url.QueryEscape(term)
	l.inflight = r.Fetch(l.fetcher, target, func(r *scenario.Run, resp fetch.Response) (any, error) {
		if seq == l.seq {
			l.inflight = nil
		}
		if fetch.IsAbort(resp.Err) {
			r.Info("Network request aborted by browser")
			return nil, nil
		}
		if seq != l.seq {
			return nil, nil
		}
		if resp.Err != nil {
			return nil, &SearchError{Term: term, Err: resp.Err}
		}
		posts, ok := resp.Body.([]any)
		if !ok {
			return nil, &SearchError{Term: term, Err: errPayload}
		}
		if l.cfg.Limit > 0 && len(posts) > l.cfg.Limit {
			posts = posts[:l.cfg.Limit]
		}
		r.ReplaceResults(posts...)
		r.Emit(fmt.Sprintf("Found %d results", len(posts)), len(posts))
		return nil, nil
	})
	return nil, nil
}
