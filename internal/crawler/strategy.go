package crawler

// Discovery strategy names, in the order the orchestrator runs them.
const (
	StrategyPlatformAPI = "platform_api"
	StrategyStructured  = "structured_data"
	StrategyFeed        = "feed"
	StrategySitemap     = "sitemap"
	StrategyHeuristic   = "heuristic"
)

// StrategyOrder is the fixed discovery order.
var StrategyOrder = []string{
	StrategyPlatformAPI, StrategyStructured, StrategyFeed, StrategySitemap, StrategyHeuristic,
}

// KnownStrategy reports whether name is a discovery strategy.
func KnownStrategy(name string) bool {
	for _, s := range StrategyOrder {
		if s == name {
			return true
		}
	}
	return false
}
