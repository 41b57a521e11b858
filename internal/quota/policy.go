package quota

import "time"

// GlobalIdentity is the sentinel identity for the service-wide tier.
const GlobalIdentity = "GLOBAL"

// Categories and operations with a default policy.
const (
	CategoryOpenAI = "openai"
	CategoryAPI    = "api"

	OpGPT      = "gpt"
	OpGPTBatch = "gpt_batch"
	OpWhisper  = "whisper"

	OpNormal    = "normal"
	OpSensitive = "sensitive"
	OpResource  = "resource"
)

// Budget is a fixed-window allowance. Penalty extends the block past the
// point where the budget was exhausted.
type Budget struct {
	Capacity int
	Window   time.Duration
	Penalty  time.Duration
}

// Policy holds the two tiers for one (category, operation). A nil tier is not enforced.
type Policy struct {
	Global      *Budget
	PerIdentity *Budget
}

// Key identifies a policy.
type Key struct {
	Category  string
	Operation string
}

// Policies maps (category, operation) to its budgets. Built once at startup.
type Policies map[Key]Policy

func budget(capacity int, window, penalty time.Duration) *Budget {
	return &Budget{Capacity: capacity, Window: window, Penalty: penalty}
}

// DefaultPolicies returns the production budget table.
func DefaultPolicies() Policies {
	return Policies{
		{CategoryOpenAI, OpGPT}: {
			Global:      budget(500, time.Minute, 5*time.Second),
			PerIdentity: budget(10, time.Minute, 5*time.Second),
		},
		{CategoryOpenAI, OpGPTBatch}: {
			Global:      budget(400, 30*time.Second, 5*time.Second),
			PerIdentity: budget(200, 30*time.Second, 5*time.Second),
		},
		{CategoryOpenAI, OpWhisper}: {
			Global:      budget(50, time.Minute, 5*time.Second),
			PerIdentity: budget(5, time.Minute, 5*time.Second),
		},
		{CategoryAPI, OpNormal}: {
			PerIdentity: budget(100, time.Minute, 5*time.Second),
		},
		{CategoryAPI, OpSensitive}: {
			PerIdentity: budget(20, time.Minute, 30*time.Second),
		},
		{CategoryAPI, OpResource}: {
			PerIdentity: budget(10, time.Minute, 10*time.Second),
		},
	}
}
