package mockservice

import (
	"fmt"
	"math"

	"github.com/markerlens/tracker/pkg/core"
)

// Sequence replays steps in order, one per frame, then repeats the last step.
func Sequence(steps ...[]core.Detection) Script {
	return func(n uint64) []core.Detection {
		if len(steps) == 0 {
			return nil
		}
		if n >= uint64(len(steps)) {
			n = uint64(len(steps)) - 1
		}
		return steps[n]
	}
}

// Orbit generates a repeating pattern per marker: new on the first visible
// frame, then active while the region circles the frame, then absent for the
// rest of the period. Markers are phase-shifted so they come and go at
// different times.
func Orbit(ids []string, period, visible uint64) Script {
	if period == 0 {
		period = 1
	}
	if visible > period {
		visible = period
	}
	return func(n uint64) []core.Detection {
		out := make([]core.Detection, 0, len(ids))
		for i, id := range ids {
			local := (n + uint64(i)*period/uint64(len(ids))) % period
			if local >= visible {
				continue
			}
			status := core.StatusActive
			if local == 0 {
				status = core.StatusNew
			}
			angle := 2 * math.Pi * float64(local) / float64(period)
			out = append(out, core.Detection{
				MarkerID:  id,
				Status:    status,
				Region:    core.Region{X: 40 + 25*math.Cos(angle), Y: 40 + 25*math.Sin(angle), Width: 20, Height: 15},
				HasRegion: true,
				Score:     0.9,
			})
		}
		return out
	}
}

// GenerateAssets returns n catalog records with relative video locators.
func GenerateAssets(n int) []Asset {
	assets := make([]Asset, 0, n)
	for i := 1; i <= n; i++ {
		assets = append(assets, Asset{
			ID:       fmt.Sprintf("ad-%03d", i),
			VideoURL: fmt.Sprintf("videos/ad-%03d.mp4", i),
			Name:     fmt.Sprintf("Marker %d", i),
		})
	}
	return assets
}

// AssetIDs returns the ids of assets in order.
func AssetIDs(assets []Asset) []string {
	ids := make([]string, len(assets))
	for i, a := range assets {
		ids[i] = a.ID
	}
	return ids
}
