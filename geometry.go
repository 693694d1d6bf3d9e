package mgp

import "math"

// instances holds the grid coordinates and the first-bond unit vectors of
// every occurrence of one interaction in a neighbourhood.
type instances struct {
	coords [][]float64
	units  [][3]float64
}

func (in *instances) add(x []float64, u [3]float64) {
	in.coords = append(in.coords, x)
	in.units = append(in.units, u)
}

// boundsFunc returns the upper grid bounds of key, or false when the
// surrogate has no map for it.
type boundsFunc func(key InteractionKey) ([]float64, bool)

// decompose splits env into per-interaction geometric descriptors. Keys are
// returned in order of first appearance.
//
// Pairs contribute one instance per bond. Triplets contribute one instance per
// ordered pair of distinct bonds with coordinates (r1, r2, r12), so that
// derivatives with respect to the first coordinate cover every bond of the
// central atom. Instances with any coordinate beyond the grid are dropped.
func decompose(env *Environment, order BodyOrder, bounds boundsFunc) (map[InteractionKey]*instances, []InteractionKey, error) {
	groups := make(map[InteractionKey]*instances)

	var keys []InteractionKey

	add := func(key InteractionKey, x []float64, u [3]float64) error {
		upper, ok := bounds(key)
		if !ok {
			return &ConfigurationError{Kernel: order.KernelName(), Key: key.String(), Reason: "no map for interaction in neighbourhood"}
		}

		for d := range x {
			if x[d] > upper[d] {
				return nil
			}
		}

		g, ok := groups[key]
		if !ok {
			g = &instances{}
			groups[key] = g
			keys = append(keys, key)
		}

		g.add(x, u)

		return nil
	}

	switch order {
	case TwoBody:
		for _, b := range env.Bonds {
			if err := add(PairKey(env.Species, b.Species), []float64{b.Distance}, b.Unit); err != nil {
				return nil, nil, err
			}
		}
	case ThreeBody:
		for i, bi := range env.Bonds {
			for j, bj := range env.Bonds {
				if i == j {
					continue
				}

				x := []float64{bi.Distance, bj.Distance, crossDistance(bi, bj)}
				if err := add(TripletKey(env.Species, bi.Species, bj.Species), x, bi.Unit); err != nil {
					return nil, nil, err
				}
			}
		}
	}

	return groups, keys, nil
}

// crossDistance is the distance between the two neighbours of a and b.
func crossDistance(a, b Bond) float64 {
	var s float64

	for k := 0; k < 3; k++ {
		d := a.Distance*a.Unit[k] - b.Distance*b.Unit[k]
		s += d * d
	}

	return math.Sqrt(s)
}

// newProbe returns the minimal synthetic environment for key: two atoms for a
// pair, three for a triplet. Its geometry is set per grid node by
// setProbeGeometry.
func newProbe(key InteractionKey, cutoff float64) *Environment {
	probe := &Environment{Species: key.Species[0], Cutoff: cutoff}

	switch key.Order {
	case TwoBody:
		probe.Bonds = []Bond{{Species: key.Species[1], Unit: [3]float64{1, 0, 0}}}
	case ThreeBody:
		probe.Bonds = []Bond{
			{Species: key.Species[1], Unit: [3]float64{1, 0, 0}},
			{Species: key.Species[2]},
		}
	}

	return probe
}

// setProbeGeometry places the probe at grid coordinate x. The first bond lies
// along +x. It returns false for triplet coordinates that violate the
// triangle inequality; the probe is left unchanged in that case.
func setProbeGeometry(probe *Environment, key InteractionKey, x []float64) bool {
	switch key.Order {
	case TwoBody:
		probe.Bonds[0].Distance = x[0]
		probe.Bonds[0].Unit = [3]float64{1, 0, 0}

		return true
	case ThreeBody:
		r1, r2, r12 := x[0], x[1], x[2]
		if r1 <= 0 || r2 <= 0 {
			return false
		}

		cos := (r1*r1 + r2*r2 - r12*r12) / (2 * r1 * r2)
		if cos < -1 || cos > 1 {
			return false
		}

		probe.Bonds[0].Distance = r1
		probe.Bonds[0].Unit = [3]float64{1, 0, 0}
		probe.Bonds[1].Distance = r2
		probe.Bonds[1].Unit = [3]float64{cos, math.Sqrt(1 - cos*cos), 0}

		return true
	}

	return false
}
