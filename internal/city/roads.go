package city

// RoadNetwork is the set of road tiles reachable from the network root.
type RoadNetwork struct {
	Tiles []Point // Breadth-first order from the root
	set   map[Point]bool
}

// Contains reports whether p is a reached road tile.
func (n RoadNetwork) Contains(p Point) bool {
	return n.set[p]
}

// Adjacent reports whether (x, y) borders a reached road tile.
func (n RoadNetwork) Adjacent(x, y int) bool {
	for _, d := range neighbours {
		if n.set[Point{X: x + d.X, Y: y + d.Y}] {
			return true
		}
	}
	return false
}

var neighbours = [4]Point{{X: 1}, {X: -1}, {Y: 1}, {Y: -1}}

func (c *City) isRoad(x, y int) bool {
	b := c.BuildingAt(x, y)
	return b != nil && b.Type.IsRoad
}

// ReachableRoads walks the road graph breadth-first from NetworkRoot. An
// empty network is returned when the root itself is not a road.
func (c *City) ReachableRoads() RoadNetwork {
	net := RoadNetwork{set: make(map[Point]bool)}
	root := c.NetworkRoot
	if !c.isRoad(root.X, root.Y) {
		return net
	}
	queue := []Point{root}
	net.set[root] = true
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		net.Tiles = append(net.Tiles, p)
		for _, d := range neighbours {
			n := Point{X: p.X + d.X, Y: p.Y + d.Y}
			if net.set[n] || !c.isRoad(n.X, n.Y) {
				continue
			}
			net.set[n] = true
			queue = append(queue, n)
		}
	}
	return net
}

// touchesRoad reports whether any tile bordering b's footprint is a reached road.
func (c *City) touchesRoad(b *Building, net RoadNetwork) bool {
	fp := b.Footprint()
	for y := fp.Y; y < fp.Y+fp.H; y++ {
		for x := fp.X; x < fp.X+fp.W; x++ {
			if net.Adjacent(x, y) {
				return true
			}
		}
	}
	return false
}

// UpdateRoadConnectivity recomputes RoadConnected for every non-road
// building. Returns the number of connected buildings.
func (c *City) UpdateRoadConnectivity() int {
	net := c.ReachableRoads()
	connected := 0
	for _, b := range c.Buildings {
		if b.Type.IsRoad {
			b.RoadConnected = net.Contains(Point{X: b.X, Y: b.Y})
			continue
		}
		b.RoadConnected = c.touchesRoad(b, net)
		b.sampleEfficiency()
		if b.RoadConnected {
			connected++
		}
	}
	return connected
}
