// Package forks enumerates the network upgrades the execution
// environment can be pinned to. The node always defaults to the latest
// fork; the constant is threaded into the interpreter config env as its
// spec id.
package forks

// Fork is a numerical identifier of specific network upgrades (forks).
type Fork int

const (
	Frontier Fork = iota
	FrontierThawing
	Homestead
	DAO
	TangerineWhistle
	SpuriousDragon
	Byzantium
	Constantinople
	Petersburg
	Istanbul
	MuirGlacier
	Berlin
	London
	ArrowGlacier
	GrayGlacier
	Paris
	Shanghai
	Cancun
	Prague
)

// Latest is the fork newly started chains run under.
const Latest = Prague

var names = map[Fork]string{
	Frontier:         "frontier",
	FrontierThawing:  "frontierThawing",
	Homestead:        "homestead",
	DAO:              "dao",
	TangerineWhistle: "tangerineWhistle",
	SpuriousDragon:   "spuriousDragon",
	Byzantium:        "byzantium",
	Constantinople:   "constantinople",
	Petersburg:       "petersburg",
	Istanbul:         "istanbul",
	MuirGlacier:      "muirGlacier",
	Berlin:           "berlin",
	London:           "london",
	ArrowGlacier:     "arrowGlacier",
	GrayGlacier:      "grayGlacier",
	Paris:            "paris",
	Shanghai:         "shanghai",
	Cancun:           "cancun",
	Prague:           "prague",
}

func (f Fork) String() string {
	if n, ok := names[f]; ok {
		return n
	}
	return "unknown"
}
