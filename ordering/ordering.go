// Package ordering applies the instance ordering policy upstream of image
// reference resolution.
package ordering

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/caio-sobreiro/dicomview/types"
)

// Policy names an instance ordering strategy
type Policy string

const (
	ByInstanceNumber Policy = "instance-number"
	ByPosition       Policy = "position"
)

// ParsePolicy validates a policy name
func ParsePolicy(name string) (Policy, error) {
	switch Policy(name) {
	case ByInstanceNumber, ByPosition:
		return Policy(name), nil
	default:
		return "", fmt.Errorf("unknown instance ordering %q", name)
	}
}

// Instances returns a sorted copy of instances. The input is not modified.
func Instances(instances []types.Instance, policy Policy) []types.Instance {
	out := make([]types.Instance, len(instances))
	copy(out, instances)

	if policy == ByPosition && sortByPosition(out) {
		return out
	}
	sortByNumber(out)
	return out
}

// Series returns a copy of series sorted by series number
func Series(series []types.Series) []types.Series {
	out := make([]types.Series, len(series))
	copy(out, series)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SeriesNumber < out[j].SeriesNumber
	})
	return out
}

func sortByNumber(instances []types.Instance) {
	sort.SliceStable(instances, func(i, j int) bool {
		return instances[i].InstanceNumber < instances[j].InstanceNumber
	})
}

// sortByPosition orders instances along the stack axis, estimated from the
// two instances farthest apart in number order. It reports false, leaving
// the slice untouched, when any position is missing or all positions
// coincide.
func sortByPosition(instances []types.Instance) bool {
	if len(instances) < 2 {
		return len(instances) == 1 && instances[0].HasPosition()
	}
	for _, inst := range instances {
		if !inst.HasPosition() {
			return false
		}
	}

	byNumber := make([]types.Instance, len(instances))
	copy(byNumber, instances)
	sortByNumber(byNumber)

	axis := make([]float64, 3)
	floats.SubTo(axis, byNumber[len(byNumber)-1].ImagePositionPatient, byNumber[0].ImagePositionPatient)
	norm := floats.Norm(axis, 2)
	if norm == 0 {
		return false
	}
	floats.Scale(1/norm, axis)

	keys := make(map[string]float64, len(instances))
	for _, inst := range instances {
		keys[inst.SOPInstanceUID] = floats.Dot(axis, inst.ImagePositionPatient)
	}
	sort.SliceStable(instances, func(i, j int) bool {
		ki, kj := keys[instances[i].SOPInstanceUID], keys[instances[j].SOPInstanceUID]
		if ki == kj {
			return instances[i].InstanceNumber < instances[j].InstanceNumber
		}
		return ki < kj
	})
	return true
}
