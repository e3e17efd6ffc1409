package batch

import (
	"sync"

	"imgharvest/pkg/category"
)

// Observer receives progress events from a run. Positions are zero-based
// within the selected categories. The runner never calls an observer
// concurrently.
type Observer interface {
	RunStarted(total int, cfg RunConfig)
	CategoryStarted(position, total int, cat category.Category, query, dir string)
	CategoryFinished(position, total int, result CategoryResult)
	RunFinished(report *RunReport)
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) RunStarted(int, RunConfig)                                   {}
func (NopObserver) CategoryStarted(int, int, category.Category, string, string) {}
func (NopObserver) CategoryFinished(int, int, CategoryResult)                   {}
func (NopObserver) RunFinished(*RunReport)                                      {}

// observers fans events out in registration order and serializes them
type observers struct {
	mu   sync.Mutex
	list []Observer
}

func (o *observers) add(obs Observer) {
	if obs != nil {
		o.list = append(o.list, obs)
	}
}

func (o *observers) runStarted(total int, cfg RunConfig) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, obs := range o.list {
		obs.RunStarted(total, cfg)
	}
}

func (o *observers) categoryStarted(position, total int, cat category.Category, query, dir string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, obs := range o.list {
		obs.CategoryStarted(position, total, cat, query, dir)
	}
}

func (o *observers) categoryFinished(position, total int, result CategoryResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, obs := range o.list {
		obs.CategoryFinished(position, total, result)
	}
}

func (o *observers) runFinished(report *RunReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, obs := range o.list {
		obs.RunFinished(report)
	}
}
