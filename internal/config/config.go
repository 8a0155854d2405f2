// Package config loads the training configuration from YAML, overlaying a
// file on top of the stock hyperparameters.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Network   NetworkConfig   `yaml:"network"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	PPO       PPOConfig       `yaml:"ppo"`
	Run       RunConfig       `yaml:"run"`
}

// NetworkConfig shapes the actor and critic networks. With shared set, the
// trunk is taken from the critic settings and the actor keeps only its own
// output head.
type NetworkConfig struct {
	Shared               bool    `yaml:"shared"`
	CriticWidth          int     `yaml:"critic_mlp_width"`
	CriticDepth          int     `yaml:"critic_mlp_depth"`
	LastCriticLayerScale float64 `yaml:"last_critic_layer_scaling"`
	ActorWidth           int     `yaml:"actor_mlp_width"`
	ActorDepth           int     `yaml:"actor_mlp_depth"`
	LastActorLayerScale  float64 `yaml:"last_actor_layer_scaling"`
	Activation           string  `yaml:"activation"`
}

// OptimizerConfig configures Adam.
type OptimizerConfig struct {
	LearningRate float64 `yaml:"learning_rate"`
	AdamEps      float64 `yaml:"adam_eps"`
}

// PPOConfig holds the optimization and estimation hyperparameters.
type PPOConfig struct {
	DiscountFactor     float64 `yaml:"discount_factor"`
	Lambda             float64 `yaml:"lmbda"`
	EpsClip            float64 `yaml:"eps_clip"`
	Epochs             int     `yaml:"epochs"`
	BatchSize          int     `yaml:"batch_size"`
	Horizon            int     `yaml:"horizon"`
	ValueLossCoeff     float64 `yaml:"value_loss_coefficient"`
	EntropyCoeff       float64 `yaml:"entropy_coefficient"`
	MaxGradNorm        float64 `yaml:"max_grad_norm"`
	AdvantageEstimator string  `yaml:"advantage_estimator"`
}

// RunConfig controls the training run itself.
type RunConfig struct {
	Episodes           int    `yaml:"n_episodes"`
	Seed               int64  `yaml:"seed"`
	CheckpointInterval int    `yaml:"checkpoint_interval"`
	SaveModelPath      string `yaml:"save_model_path"`
	LoadModelPath      string `yaml:"load_model_path"`
}

// Default returns the stock training configuration.
func Default() Config {
	return Config{
		Network: NetworkConfig{
			Shared:               false,
			CriticWidth:          256,
			CriticDepth:          4,
			LastCriticLayerScale: 0.1,
			ActorWidth:           128,
			ActorDepth:           4,
			LastActorLayerScale:  0.01,
			Activation:           "Tanh",
		},
		Optimizer: OptimizerConfig{
			LearningRate: 0.001,
			AdamEps:      1e-5,
		},
		PPO: PPOConfig{
			DiscountFactor:     0.99,
			Lambda:             0.95,
			EpsClip:            0.25,
			Epochs:             4,
			BatchSize:          64,
			Horizon:            512,
			ValueLossCoeff:     0.001,
			EntropyCoeff:       0.1,
			MaxGradNorm:        0.5,
			AdvantageEstimator: "gae",
		},
		Run: RunConfig{
			Episodes:           2500,
			Seed:               14,
			CheckpointInterval: 0,
			SaveModelPath:      "checkpoint.bin",
			LoadModelPath:      "",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the engine's constructors would also refuse, plus
// the loop-level settings the constructors never see.
func (c Config) Validate() error {
	if c.PPO.Horizon <= 0 {
		return fmt.Errorf("horizon must be greater than zero, got %d", c.PPO.Horizon)
	}
	if c.PPO.Epochs <= 0 {
		return fmt.Errorf("epochs must be greater than zero, got %d", c.PPO.Epochs)
	}
	if c.PPO.BatchSize <= 0 {
		return fmt.Errorf("batch size must be greater than zero, got %d", c.PPO.BatchSize)
	}
	if c.Run.Episodes <= 0 {
		return fmt.Errorf("n_episodes must be greater than zero, got %d", c.Run.Episodes)
	}
	if c.Optimizer.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be greater than zero, got %g", c.Optimizer.LearningRate)
	}
	return nil
}
