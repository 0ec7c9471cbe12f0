package lstore

import (
	"strconv"
	"sync"
	"time"

	"github.com/ValentinKolb/ghostmesh/lib/store"
)

// filter buffers events until they are polled
type filter struct {
	mu      sync.Mutex
	events  []store.Event
	created time.Time
}

func (f *filter) push(ev store.Event) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func (f *filter) drain() []store.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := f.events
	f.events = nil
	return events
}

func (s *LocalStore) filterExpired(f *filter) bool {
	return s.opts.Now().Sub(f.created) >= s.opts.FilterTTL
}

// NewFilter installs an event filter. Filters live for FilterTTL, after which every
// call with their id fails with "filter not found".
func (s *LocalStore) NewFilter() (string, error) {
	s.ExpireFilters()
	id := "0x" + strconv.FormatUint(s.filterSeq.Add(1), 16)
	s.filters.Store(id, &filter{created: s.opts.Now()})
	Logger.Debugf("installed filter %s", id)
	return id, nil
}

// FilterChanges returns the events buffered for the filter since the last call
func (s *LocalStore) FilterChanges(id string) ([]store.Event, error) {
	// lapsed entities produce deleted events, collect them before draining
	s.mu.Lock()
	s.sweep()
	s.mu.Unlock()

	f, ok := s.filters.Load(id)
	if !ok {
		return nil, filterNotFound(id)
	}
	if s.filterExpired(f) {
		s.filters.Delete(id)
		Logger.Debugf("filter %s expired", id)
		return nil, filterNotFound(id)
	}
	return f.drain(), nil
}

// UninstallFilter removes a filter
func (s *LocalStore) UninstallFilter(id string) error {
	f, ok := s.filters.LoadAndDelete(id)
	if !ok || s.filterExpired(f) {
		return filterNotFound(id)
	}
	return nil
}

// ExpireFilters drops every filter past its lifetime and returns how many were dropped
func (s *LocalStore) ExpireFilters() int {
	n := 0
	s.filters.Range(func(id string, f *filter) bool {
		if s.filterExpired(f) {
			s.filters.Delete(id)
			n++
		}
		return true
	})
	return n
}

// FilterCount returns the number of installed filters, including expired ones not yet dropped
func (s *LocalStore) FilterCount() int {
	return s.filters.Size()
}

// emit appends ev to every live filter
func (s *LocalStore) emit(ev store.Event) {
	s.filters.Range(func(_ string, f *filter) bool {
		if !s.filterExpired(f) {
			f.push(ev)
		}
		return true
	})
}

func filterNotFound(id string) error {
	return store.Errorf(store.RetCFilterExpired, "filter not found (id %s)", id)
}
