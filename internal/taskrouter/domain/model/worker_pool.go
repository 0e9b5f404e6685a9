package model

import (
	"fmt"
)

// ResourceType is the kind of compute a worker pool offers.
type ResourceType string

const (
	ResourceCPU ResourceType = "cpu"
	ResourceGPU ResourceType = "gpu"
)

func (r ResourceType) Valid() bool {
	switch r {
	case ResourceCPU, ResourceGPU:
		return true
	}
	return false
}

// WorkerPool is a named capacity bucket tasks are dispatched onto.
// Pools are created once at startup; only CurrentLoad mutates afterward.
type WorkerPool struct {
	Name         string
	Region       Region
	ResourceType ResourceType
	CostPerUnit  float64
	Capacity     int
	CurrentLoad  int
}

// NewWorkerPool validates and builds a WorkerPool.
func NewWorkerPool(name string, region Region, resourceType ResourceType, costPerUnit float64, capacity int) (*WorkerPool, error) {
	if name == "" {
		return nil, fmt.Errorf("worker pool name is required")
	}
	if !region.Valid() {
		return nil, fmt.Errorf("invalid region %q", region)
	}
	if !resourceType.Valid() {
		return nil, fmt.Errorf("invalid resource type %q", resourceType)
	}
	if costPerUnit <= 0 {
		return nil, fmt.Errorf("cost_per_unit must be positive, got %v", costPerUnit)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive, got %v", capacity)
	}
	return &WorkerPool{
		Name:         name,
		Region:       region,
		ResourceType: resourceType,
		CostPerUnit:  costPerUnit,
		Capacity:     capacity,
		CurrentLoad:  0,
	}, nil
}

// HasFreeCapacity reports whether the pool can accept one more task.
func (p *WorkerPool) HasFreeCapacity() bool {
	return p.CurrentLoad < p.Capacity
}

// AvailableCapacity returns the remaining free slots, never negative.
func (p *WorkerPool) AvailableCapacity() int {
	if p.Capacity <= p.CurrentLoad {
		return 0
	}
	return p.Capacity - p.CurrentLoad
}

// UtilizationPercent returns current load as a percentage of capacity.
func (p *WorkerPool) UtilizationPercent() float64 {
	if p.Capacity == 0 {
		return 0
	}
	return (float64(p.CurrentLoad) / float64(p.Capacity)) * 100
}

// Snapshot returns a defensive copy safe to hand to a Policy implementation.
func (p *WorkerPool) Snapshot() WorkerPool {
	return *p
}
