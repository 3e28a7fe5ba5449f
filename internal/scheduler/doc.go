// Package scheduler runs one harvesting job: it loads the topic's sources,
// discovers them in fixed-size concurrent groups under a wall-clock budget,
// persists what was found and reports per-source results.
package scheduler
