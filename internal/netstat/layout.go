package netstat

import (
	"math"
	"strconv"

	"firestige.xyz/festats/internal/core/decay"
)

const (
	w = decay.Windows

	// 1D block: weight, mean, std per window
	block1D = 3 * w
	// 2D block: radius, magnitude, covariance, pcc per window
	block2D = 4 * w

	offMI   = 0
	offH    = offMI + block1D
	offHH   = offH + block1D
	offJit  = offHH + block2D
	offHp   = offJit + block1D
	offHpHp = offHp + block1D

	// NumFeatures is the length of every feature vector.
	NumFeatures = offHpHp + block2D
)

// Table names, also used as metric labels.
const (
	TableMACIP      = "mac_ip"
	TableHost       = "host"
	TableHostPair   = "host_pair"
	TableJitter     = "jitter"
	TableSocket     = "socket"
	TableSocketPair = "socket_pair"
)

// FeatureNames returns the column names of a vector produced with lambdas,
// in vector order.
func FeatureNames(lambdas decay.Lambdas) []string {
	labels := make([]string, w)
	for i, l := range lambdas.Floats() {
		// fixed-point rates print as their nearest 4-decimal value
		labels[i] = "L" + strconv.FormatFloat(math.Round(l*1e4)/1e4, 'g', -1, 64)
	}

	names := make([]string, 0, NumFeatures)
	oneD := func(prefix string) {
		for _, stat := range []string{"weight", "mean", "std"} {
			for _, l := range labels {
				names = append(names, prefix+"_"+l+"_"+stat)
			}
		}
	}
	twoD := func(prefix string) {
		for _, stat := range []string{"radius", "magnitude", "covariance", "pcc"} {
			for _, l := range labels {
				names = append(names, prefix+"_"+l+"_"+stat)
			}
		}
	}

	oneD("MI_dir")
	oneD("H")
	twoD("HH")
	oneD("HH_jit")
	oneD("Hp")
	twoD("HpHp")
	return names
}
