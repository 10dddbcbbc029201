package metrickeys

const (
	Prefix = "worker."

	// Sticky decider cache
	StickyCacheHit                 = Prefix + "sticky_cache.hit"
	StickyCacheMiss                = Prefix + "sticky_cache.miss"
	StickyCacheTotalForcedEviction = Prefix + "sticky_cache.total_forced_eviction"
	StickyCacheSize                = Prefix + "sticky_cache.size"
	StickyCacheEviction            = Prefix + "sticky_cache.eviction"

	// Decision tasks
	DecisionTaskProcessed = Prefix + "decision_task.processed"
	DecisionTaskFailed    = Prefix + "decision_task.failed"
)

// Tag names
const (
	Namespace    = "namespace"
	TaskQueue    = "task_queue"
	WorkflowType = "workflow_type"

	// Reason an entry left the sticky cache outside of forced eviction
	EvictionReason = "reason"
)
