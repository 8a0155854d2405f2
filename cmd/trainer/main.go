package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"multiagent-ppo/internal/config"
	"multiagent-ppo/internal/experience"
	"multiagent-ppo/internal/policy"
	"multiagent-ppo/internal/trainer"
	"multiagent-ppo/internal/training"
)

func main() {
	configPath := pflag.String("config", "", "path to a YAML config overlaying the defaults")
	agents := pflag.Int("agents", 3, "number of agents in the demo environment")
	length := pflag.Int("length", 12, "length of the demo line world")
	maxSteps := pflag.Int("max-steps", 64, "steps per episode in the demo environment")
	episodes := pflag.Int("episodes", 0, "override the configured episode count")
	debug := pflag.Bool("debug", false, "enable debug logging")
	pflag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Str("run_id", uuid.NewString()).Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("loading configuration")
	}
	if *episodes > 0 {
		cfg.Run.Episodes = *episodes
	}

	env := newLineWorld(*agents, *length, *maxSteps)

	buf, err := experience.NewBuffer(env.NumAgents())
	if err != nil {
		logger.Fatal().Err(err).Msg("creating experience buffer")
	}

	rng := rand.New(rand.NewSource(cfg.Run.Seed))
	policyCfg := policy.Config{
		// The trailing scalar of the state is the agent id.
		StateSize:            env.StateSize() + 1,
		ActionSize:           env.ActionSize(),
		ActorDepth:           cfg.Network.ActorDepth,
		ActorWidth:           cfg.Network.ActorWidth,
		CriticDepth:          cfg.Network.CriticDepth,
		CriticWidth:          cfg.Network.CriticWidth,
		Activation:           cfg.Network.Activation,
		LastActorLayerScale:  cfg.Network.LastActorLayerScale,
		LastCriticLayerScale: cfg.Network.LastCriticLayerScale,
		Shared:               cfg.Network.Shared,
		LoadPath:             cfg.Run.LoadModelPath,
	}
	trainerCfg := trainer.Config{
		LearningRate:       cfg.Optimizer.LearningRate,
		AdamEps:            cfg.Optimizer.AdamEps,
		DiscountFactor:     cfg.PPO.DiscountFactor,
		Lambda:             cfg.PPO.Lambda,
		EpsClip:            cfg.PPO.EpsClip,
		Epochs:             cfg.PPO.Epochs,
		BatchSize:          cfg.PPO.BatchSize,
		ValueLossCoeff:     cfg.PPO.ValueLossCoeff,
		EntropyCoeff:       cfg.PPO.EntropyCoeff,
		MaxGradNorm:        cfg.PPO.MaxGradNorm,
		AdvantageEstimator: cfg.PPO.AdvantageEstimator,
	}

	tr, err := trainer.New(policyCfg, trainerCfg, rng, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("creating trainer")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loop := &training.Loop{
		Env:                env,
		Trainer:            tr,
		Buffer:             buf,
		Horizon:            cfg.PPO.Horizon,
		Episodes:           cfg.Run.Episodes,
		CheckpointInterval: cfg.Run.CheckpointInterval,
		CheckpointPath:     cfg.Run.SaveModelPath,
		Logger:             logger,
	}
	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("training failed")
	}
}
