// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

// Package process sets up process-wide configuration and logging for the
// gestima commands.
package process

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Error is the default process errs class.
var Error = errs.Class("process")

// Execute runs the root command with viper-backed flag configuration.
//
// Every flag can be provided through the config file or through the
// environment with the GESTIMA_ prefix.
func Execute(cmd *cobra.Command) {
	cobra.OnInitialize(func() {
		for _, c := range allCommands(cmd) {
			_ = viper.BindPFlags(c.Flags())
		}
		viper.SetEnvPrefix("gestima")
		viper.AutomaticEnv()

		if cfgFile := viper.GetString("config"); cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			_ = viper.ReadInConfig()
		}
	})

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func allCommands(cmd *cobra.Command) []*cobra.Command {
	out := []*cobra.Command{cmd}
	for _, sub := range cmd.Commands() {
		out = append(out, allCommands(sub)...)
	}
	return out
}

// Ctx returns a context that is cancelled on SIGINT or SIGTERM.
func Ctx() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// NewLogger creates the process logger at the requested level.
func NewLogger(level string, development bool) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, Error.Wrap(err)
	}

	config := zap.NewProductionConfig()
	if development {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := config.Build()
	return logger, Error.Wrap(err)
}

// Viper exposes the process viper instance, mainly for flag lookups in
// commands that read configuration directly.
func Viper() *viper.Viper { return viper.GetViper() }

// LookupFlag finds a flag in the command hierarchy.
func LookupFlag(cmd *cobra.Command, name string) *pflag.Flag {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f
	}
	return cmd.PersistentFlags().Lookup(name)
}
