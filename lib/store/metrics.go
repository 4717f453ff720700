package store

import "github.com/VictoriaMetrics/metrics"

// process-wide operation counters
var (
	mCommits      = metrics.GetOrCreateCounter("willow_commits_total")
	mRollbacks    = metrics.GetOrCreateCounter("willow_rollbacks_total")
	mChangesets   = metrics.GetOrCreateCounter("willow_changesets_applied_total")
	mCacheHits    = metrics.GetOrCreateCounter("willow_cache_hits_total")
	mCacheMisses  = metrics.GetOrCreateCounter("willow_cache_misses_total")
	mHookFailures = metrics.GetOrCreateCounter("willow_extension_hook_failures_total")
)
