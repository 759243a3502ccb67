// Package constants provides named constants used throughout the poseidon codebase.
// This centralizes magic numbers for better maintainability and documentation.
package constants

// Calendar constants. One scheduler step is one simulated day.
const (
	// DaysPerYear is the length of a simulated year in days.
	DaysPerYear = 365

	// StepsPerDay is the number of scheduler steps in a simulated day.
	StepsPerDay = 1
)

// Adaptation constants
const (
	// MaxExplorationAttempts bounds how many randomized candidates are drawn
	// before an exploration is abandoned and the agent exploits instead.
	MaxExplorationAttempts = 20

	// DefaultExplorationProbability is the chance an agent explores at each decision.
	DefaultExplorationProbability = 0.2

	// DefaultImitationProbability is the chance an agent imitates a friend
	// when it did not explore.
	DefaultImitationProbability = 0.6

	// DefaultAdaptationIntervalDays is how often an agent takes a decision.
	DefaultAdaptationIntervalDays = 5

	// DefaultPenaltyIncrement is the step used by the exploration-penalty
	// probability to raise or lower the exploration probability.
	DefaultPenaltyIncrement = 0.02

	// DefaultMinimumExploration is the floor for adaptive exploration probabilities.
	DefaultMinimumExploration = 0.01

	// DefaultDailyDecay is the multiplicative daily decay of the
	// daily-decreasing exploration probability.
	DefaultDailyDecay = 0.999

	// TrendSmoothing is the weight of the newest fitness delta in the
	// exploration trend estimator.
	TrendSmoothing = 0.1
)

// Prototype scenario defaults
const (
	// DefaultFishers is the number of fishers in the prototype scenario.
	DefaultFishers = 50

	// DefaultPatches is the number of sea patches on the prototype map.
	DefaultPatches = 20

	// DefaultFriendsPerFisher is the out-degree of the social network.
	DefaultFriendsPerFisher = 2

	// DefaultPatchCapacity is the carrying capacity of each patch, in kg.
	DefaultPatchCapacity = 5000.0

	// DefaultGrowthRate is the yearly logistic growth rate of each patch.
	DefaultGrowthRate = 0.7

	// DefaultCatchability is the share of patch biomass caught in a day.
	DefaultCatchability = 0.01

	// DefaultPrice is the sale price per kg.
	DefaultPrice = 10.0

	// DefaultTravelCost is the cost of a trip per patch of distance from port.
	DefaultTravelCost = 5.0

	// DefaultMaxDestinationStep is the largest jump, in patches, when
	// exploring a new destination.
	DefaultMaxDestinationStep = 3

	// DefaultDecisionBatch is how many decisions a run buffers before writing
	// them to the store.
	DefaultDecisionBatch = 5000

	// DefaultObjectiveWindowDays is the look-back of the cash-flow objective.
	DefaultObjectiveWindowDays = 5

	// DefaultYears is how many simulated years a run lasts.
	DefaultYears = 5
)

// Export constants
const (
	// MaxArchiveDecompressedSize caps the decompressed payload of a run archive (200MB).
	MaxArchiveDecompressedSize = 200 * 1024 * 1024
)

// Time series names.
const (
	SeriesDaily  = "daily"
	SeriesYearly = "yearly"
)
