package constants

import "time"

var CacheTTL = struct {
	InvestorProfile time.Duration
	CycleLock       time.Duration
}{
	InvestorProfile: 7 * 24 * time.Hour, // profile pages change rarely
	CycleLock:       6 * time.Hour,      // longest cycle we expect; released early on completion
}

var CacheKeys = struct {
	InvestorProfilePrefix string
	CycleLock             string
}{
	InvestorProfilePrefix: "dealsync:investor-profile:",
	CycleLock:             "dealsync:cycle-lock",
}

var CacheSize = struct {
	InvestorProfiles int
}{
	InvestorProfiles: 2048,
}

var RedisConfig = struct {
	ReadyTimeout time.Duration
}{
	ReadyTimeout: 5 * time.Second,
}

var RetryConfig = struct {
	MaxAttempts int
	BaseDelay   time.Duration
}{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
}

var CircuitBreakerConfig = struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}{
	FailureThreshold: 3,
	ResetTimeout:     5 * time.Minute,
}

var BrowserConfig = struct {
	NavigationTimeout time.Duration
	MarkerTimeout     time.Duration
	SettleDelay       time.Duration
	Concurrency       int
}{
	NavigationTimeout: 45 * time.Second,
	MarkerTimeout:     20 * time.Second,
	SettleDelay:       750 * time.Millisecond,
	Concurrency:       3,
}

var SyncConfig = struct {
	Interval           time.Duration
	MaxPages           int
	FirstRunPageBudget int
	TxTimeout          time.Duration
	ProfileConcurrency int
	MaxSlugAttempts    int
	Currency           string
}{
	Interval:           4 * time.Hour,
	MaxPages:           50,
	FirstRunPageBudget: 3,
	TxTimeout:          30 * time.Second,
	ProfileConcurrency: 4,
	MaxSlugAttempts:    20,
	Currency:           "USD",
}

var APIConfig = struct {
	ProfileTimeout time.Duration
	UserAgent      string
}{
	ProfileTimeout: 20 * time.Second,
	UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0 Safari/537.36",
}

var StringLimits = struct {
	Description     int
	DiffInvestors   int
	DiffProjectName int
}{
	Description:     1200,
	DiffInvestors:   60,
	DiffProjectName: 32,
}

// IndividualInvestors is the synthetic investor name used when a row only
// says that anonymous individuals took part.
const IndividualInvestors = "Individual investors"
