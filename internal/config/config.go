// Package config loads the tracker's configuration the way corral's
// config.go does: viper defaults, an optional rc file, environment
// override, all collapsed into a typed struct the rest of the module reads
// from instead of calling viper directly.
package config

import (
	"github.com/spf13/viper"

	"github.com/corral-shuffle/tracker/mapoutput"
)

// Config bundles every deployment-tunable knob the tracker reads at
// startup. The locality gates (ShufflePrefMapThreshold,
// ShufflePrefReduceThreshold, ReducerPrefLocsFraction) aren't among them —
// they live as constants in the authority package that consumes them.
type Config struct {
	MinSizeForBroadcast    int64
	MaxRPCMessageSize      int64
	ShuffleLocalityEnabled bool
	ParallelAggThreshold   int64
	DispatcherNumThreads   int
}

// Load reads "trackerrc" from "." and "$HOME/.corral-tracker", applies
// TRACKER_-prefixed environment overrides, and returns the resulting
// Config after validating it.
func Load() (Config, error) {
	viper.SetConfigName("trackerrc")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.corral-tracker")

	setupDefaults()

	// A missing rc file is fine: defaults plus env are a complete
	// configuration on their own.
	_ = viper.ReadInConfig()

	viper.SetEnvPrefix("tracker")
	viper.AutomaticEnv()

	cfg := Config{
		MinSizeForBroadcast:    viper.GetInt64("minSizeForBroadcast"),
		MaxRPCMessageSize:      viper.GetInt64("maxRpcMessageSize"),
		ShuffleLocalityEnabled: viper.GetBool("shuffleLocalityEnabled"),
		ParallelAggThreshold:   viper.GetInt64("parallelAggThreshold"),
		DispatcherNumThreads:   viper.GetInt("dispatcher.numThreads"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setupDefaults() {
	defaultSettings := map[string]interface{}{
		"minSizeForBroadcast":    512 * 1024, // 512 KiB
		"maxRpcMessageSize":      128 * 1024 * 1024,
		"shuffleLocalityEnabled": true,
		"shuffleMapOutputParallelAggregationThreshold": 10_000_000,
		"dispatcher.numThreads":                        8,
	}
	for key, value := range defaultSettings {
		viper.SetDefault(key, value)
	}
	viper.RegisterAlias("parallelAggThreshold", "shuffleMapOutputParallelAggregationThreshold")
}

// Validate rejects a configuration where the broadcast threshold exceeds
// the hard RPC message size cap: nothing could ever be sent direct past
// that point, so the threshold can never legitimately be reached.
func (c Config) Validate() error {
	if c.MinSizeForBroadcast > c.MaxRPCMessageSize {
		return &mapoutput.ErrInvalidConfiguration{
			Reason: "minSizeForBroadcast must not exceed maxRpcMessageSize",
		}
	}
	return nil
}
