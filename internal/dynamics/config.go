package dynamics

import (
	"fmt"
	"math"
)

// Config parameterizes the implicit update. It is copied into an Engine at
// construction; a different configuration needs a new Engine.
type Config struct {
	// LearningRate scales every rank-one association. Must be > 0.
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	// RegularizationStrength is the fraction of the accumulated weights
	// forgotten before each new association, in [0, 1].
	RegularizationStrength float64 `json:"regularization_strength" yaml:"regularization_strength"`
	// UseSkipConnections adds the raw target onto the weight diagonal.
	UseSkipConnections bool `json:"use_skip_connections" yaml:"use_skip_connections"`
}

func DefaultConfig() Config {
	return Config{
		LearningRate:           1.0,
		RegularizationStrength: 0.01,
		UseSkipConnections:     true,
	}
}

func (c Config) Validate() error {
	if !(c.LearningRate > 0) || math.IsInf(c.LearningRate, 0) {
		return fmt.Errorf("%w: learning rate must be positive and finite, got %v", ErrInvalidConfig, c.LearningRate)
	}
	if !(c.RegularizationStrength >= 0) || c.RegularizationStrength > 1 {
		return fmt.Errorf("%w: regularization strength must be in [0, 1], got %v", ErrInvalidConfig, c.RegularizationStrength)
	}
	return nil
}

// RuleName reports which update rule variant the configuration selects.
func (c Config) RuleName() string {
	return ruleFor(c).name()
}
