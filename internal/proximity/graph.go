// Package proximity derives the read-time connection graph between pulses.
package proximity

import (
	"math"
	"sort"
	"strconv"

	"mood-pulse-backend/internal/models"
)

// EarthRadiusKm is the mean Earth radius used by Haversine
const EarthRadiusKm = 6371.0

// GroupKey selects the attribute pulses must share to be linked
type GroupKey string

const (
	GroupByMood   GroupKey = "mood"
	GroupByEnergy GroupKey = "energy"
)

// ParseGroupKey maps a query value to a GroupKey; empty selects mood
func ParseGroupKey(raw string) (GroupKey, bool) {
	switch GroupKey(raw) {
	case "", GroupByMood:
		return GroupByMood, true
	case GroupByEnergy:
		return GroupByEnergy, true
	default:
		return "", false
	}
}

// Options controls a Build call
type Options struct {
	RadiusKm float64
	GroupBy  GroupKey
	// MaxGroupSize caps how many pulses per group take part in pair checks.
	// Larger groups keep their newest MaxGroupSize members. Zero means no cap.
	MaxGroupSize int
}

// Graph is the edge set plus how many groups were capped
type Graph struct {
	Edges        []models.Edge `json:"edges"`
	CappedGroups int           `json:"capped_groups"`
}

// Build links every pair of opted-in pulses that share a group and lie within
// RadiusKm of each other. Output is sorted by (From, To) so equal input sets
// yield equal graphs; each undirected pair appears once and never as a self-loop.
func Build(pulses []models.Pulse, opts Options) Graph {
	groups := make(map[string][]*models.Pulse)
	seen := make(map[string]bool, len(pulses))
	for i := range pulses {
		p := &pulses[i]
		if !p.AllowConnect || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		key := groupValue(p, opts.GroupBy)
		groups[key] = append(groups[key], p)
	}

	g := Graph{Edges: []models.Edge{}}
	for _, members := range groups {
		if opts.MaxGroupSize > 0 && len(members) > opts.MaxGroupSize {
			sort.Slice(members, func(i, j int) bool {
				if !members[i].CreatedAt.Equal(members[j].CreatedAt) {
					return members[i].CreatedAt.After(members[j].CreatedAt)
				}
				return members[i].ID < members[j].ID
			})
			members = members[:opts.MaxGroupSize]
			g.CappedGroups++
		}

		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				a, b := members[i], members[j]
				d := Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
				if d > opts.RadiusKm {
					continue
				}
				from, to := a.ID, b.ID
				if to < from {
					from, to = to, from
				}
				g.Edges = append(g.Edges, models.Edge{From: from, To: to, DistanceKm: d})
			}
		}
	}

	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].From != g.Edges[j].From {
			return g.Edges[i].From < g.Edges[j].From
		}
		return g.Edges[i].To < g.Edges[j].To
	})
	return g
}

func groupValue(p *models.Pulse, key GroupKey) string {
	if key == GroupByEnergy {
		return strconv.Itoa(p.Energy)
	}
	return string(p.Mood)
}

// Haversine returns the great-circle distance in kilometers between two points
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	const toRad = math.Pi / 180

	dLat := (lat2 - lat1) * toRad
	dLng := (lng2 - lng1) * toRad

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*toRad)*math.Cos(lat2*toRad)*math.Sin(dLng/2)*math.Sin(dLng/2)

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(math.Min(1, h)))
}
