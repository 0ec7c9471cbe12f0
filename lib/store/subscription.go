package store

import (
	"sync"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("store")

// DefaultPollInterval is used when a subscription is started without an interval
const DefaultPollInterval = time.Second

// IFilterSource is a store that exposes server-side event filters.
// Filters buffer change events until they are polled and may disappear
// at any time, after which FilterChanges returns a RetCFilterExpired error.
type IFilterSource interface {
	// NewFilter installs a filter starting at the current block and returns its id
	NewFilter() (id string, err error)
	// FilterChanges returns and clears the events buffered since the last poll
	FilterChanges(id string) ([]Event, error)
	// UninstallFilter removes the filter
	UninstallFilter(id string) error
}

// PollSubscription installs a filter on src and polls it every interval, dispatching
// events to h. Poll errors are logged and reported through h.OnError, and polling
// continues. In particular an expired filter keeps failing on every tick until the
// subscription is stopped, subscribers are expected to replace it themselves.
//
// The returned StopFunc stops polling and uninstalls the filter. Its error is the
// uninstall error, which is a RetCFilterExpired error when the filter is already gone.
func PollSubscription(src IFilterSource, h EventHandlers, interval time.Duration) (StopFunc, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	id, err := src.NewFilter()
	if err != nil {
		return nil, err
	}
	Logger.Debugf("installed event filter %s (poll every %s)", id, interval)

	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}

			events, err := src.FilterChanges(id)
			if err != nil {
				Logger.Errorf("error from subscribeEntityEvents (filter %s): %v", id, err)
				h.Fail(err)
				continue
			}
			for _, ev := range events {
				select {
				case <-stop:
					return
				default:
				}
				h.Dispatch(ev)
			}
		}
	}()

	var once sync.Once
	var stopErr error
	return func() error {
		once.Do(func() {
			close(stop)
			<-done
			stopErr = src.UninstallFilter(id)
		})
		return stopErr
	}, nil
}
