package ml

import (
	"math"
	"math/rand"
)

const DefaultTestRatio = 0.2

// Split shuffles the dataset with a seeded permutation and cuts it into train and test
// partitions. Ratios outside (0,1) fall back to DefaultTestRatio.
func Split(dataset *Dataset, testRatio float64, seed int64) (train, test *Dataset) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = DefaultTestRatio
	}
	train, test = &Dataset{}, &Dataset{}
	n := dataset.Len()
	if n == 0 {
		return train, test
	}
	rnd := rand.New(rand.NewSource(seed))
	indices := rnd.Perm(n)

	split := int(math.Round(float64(n) * (1 - testRatio)))
	if split < 1 {
		split = 1
	}
	for i, idx := range indices {
		if i < split {
			train.append(dataset.Features[idx], dataset.Targets[idx])
		} else {
			test.append(dataset.Features[idx], dataset.Targets[idx])
		}
	}
	return train, test
}
