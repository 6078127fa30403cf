package kmetrics

import (
	"sync"
	"unsafe"

	"go.opencensus.io/metric/metricdata"
)

// KmetricsRegistry implements the metricproducer.Producer interface.
type KmetricsRegistry struct {
	mu         sync.Mutex // lock this only when registering a new Kmetric
	collection unsafe.Pointer
}

// NewKmetricsRegistry initializes a new KmetricsRegistry.
func NewKmetricsRegistry() *KmetricsRegistry {
	return &KmetricsRegistry{
		collection: unsafe.Pointer(CreateKmetricsCollection()),
	}
}

// RegisterKmetric registers a new Kmetric.
func (registry *KmetricsRegistry) RegisterKmetric(km *Kmetric) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	oldCollection := (*KmetricsCollection)(registry.collection)
	newCollection := oldCollection.Clone()
	newCollection.dict[km.metricName] = km
	registry.collection = unsafe.Pointer(newCollection)
}

// Read returns all registered metrics.
func (registry *KmetricsRegistry) Read() []*metricdata.Metric {
	collection := (*KmetricsCollection)(registry.collection)
	list := []*metricdata.Metric{}

	for _, v := range collection.dict {
		list = append(list, v.ReadCount())
		if !v.countOnly {
			list = append(list, v.ReadSum())
		}
	}
	return list
}

// KmetricsCollection is immutable; a new collection is created for new Kmetrics.
type KmetricsCollection struct {
	dict map[string]*Kmetric
}

// CreateKmetricsCollection initializes a new KmetricsCollection.
func CreateKmetricsCollection() *KmetricsCollection {
	return &KmetricsCollection{
		dict: make(map[string]*Kmetric),
	}
}

var kmetricsRegistry = NewKmetricsRegistry()

// GetKmetricsRegistry returns the singleton instance of KmetricsRegistry.
func GetKmetricsRegistry() *KmetricsRegistry {
	return kmetricsRegistry
}

// Clone creates a copy of the KmetricsCollection.
func (collection *KmetricsCollection) Clone() *KmetricsCollection {
	newCollection := CreateKmetricsCollection()
	for k, v := range collection.dict {
		newCollection.dict[k] = v
	}
	return newCollection
}
