// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package delta

import (
	"fmt"

	"github.com/ffutop/delta-ota/internal/flash"
	"github.com/ffutop/delta-ota/internal/ota"
)

// Pseudo-labels resolved against the platform instead of the table.
const (
	LabelRunning = "@running"
	LabelNext    = "@next"
)

// Options selects the partitions used by an update.
type Options struct {
	Source      string
	Destination string
	Patch       string
}

// DefaultOptions returns the stock ota_0 -> ota_1 layout.
func DefaultOptions() Options {
	return Options{Source: "ota_0", Destination: "ota_1", Patch: "patch"}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Source == "" {
		o.Source = def.Source
	}
	if o.Destination == "" {
		o.Destination = def.Destination
	}
	if o.Patch == "" {
		o.Patch = def.Patch
	}
	return o
}

func resolve(platform *ota.Platform, label string) (*flash.Partition, error) {
	var part *flash.Partition
	switch label {
	case LabelRunning:
		part = platform.RunningPartition()
	case LabelNext:
		part = platform.NextUpdatePartition()
	default:
		part = platform.Table().Find(label)
	}
	if part == nil {
		return nil, fmt.Errorf("no partition %q", label)
	}
	return part, nil
}

// resolveImages looks up the source and destination and checks both are
// distinct updatable app slots.
func resolveImages(platform *ota.Platform, o Options) (src, dst *flash.Partition, err error) {
	if src, err = resolve(platform, o.Source); err != nil {
		return nil, nil, newError(PartitionError, "resolve source", err)
	}
	if dst, err = resolve(platform, o.Destination); err != nil {
		return nil, nil, newError(PartitionError, "resolve destination", err)
	}
	for _, p := range []*flash.Partition{src, dst} {
		if !p.IsUpdatable() {
			return nil, nil, newError(PartitionError, "resolve", fmt.Errorf("%s (%s/0x%02x) is not an app slot", p.Label(), p.Type(), uint8(p.Subtype())))
		}
	}
	if src == dst {
		return nil, nil, newError(PartitionError, "resolve", fmt.Errorf("source and destination are both %s", src.Label()))
	}
	return src, dst, nil
}
