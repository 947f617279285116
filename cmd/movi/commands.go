// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jinterlante1206/movi-assistant/cmd/movi/config"
	"github.com/jinterlante1206/movi-assistant/pkg/ux"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var (
	// Global flags
	configPath       string
	personalityLevel string
	contextPath      string
	apiURL           string
	verbose          bool

	// ask flags
	askImage  string
	askAnswer string

	// devserver flags
	devAddr      string
	devResponder string
	devTokenRate float64

	// moviConfig is loaded once by the root command.
	moviConfig config.MoviConfig
)

var (
	rootCmd = &cobra.Command{
		Use:   "movi",
		Short: "Chat with the Movi fleet assistant from your terminal",
		Long: `Movi streams answers from the assistant backend, asks before
destructive actions, and can speak through the voice channel.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: loadSettings,
	}

	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Starts an interactive chat session",
		Args:  cobra.NoArgs,
		RunE:  runChatCommand, // Defined in cmd_chat.go
	}

	askCmd = &cobra.Command{
		Use:   "ask [message]",
		Short: "Sends one message and prints the streamed reply",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAskCommand, // Defined in cmd_chat.go
	}

	devServerCmd = &cobra.Command{
		Use:   "devserver",
		Short: "Runs a local chat backend for development",
		Args:  cobra.NoArgs,
		RunE:  runDevServerCommand, // Defined in cmd_devserver.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Prints the movi version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "movi %s\n", Version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default $MOVI_CONFIG or ~/.movi/movi.yaml)")
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"output style: full, minimal, or machine")
	rootCmd.PersistentFlags().StringVar(&contextPath, "page", "",
		"dashboard path the assistant is opened on, e.g. /vehicles")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "",
		"backend base URL, overrides the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"log to the console at debug level")

	askCmd.Flags().StringVar(&askImage, "image", "", "attach an image file")
	askCmd.Flags().StringVar(&askAnswer, "answer", "",
		"answer confirmations automatically with yes or no")

	devServerCmd.Flags().StringVar(&devAddr, "addr", "", "listen address (default from config)")
	devServerCmd.Flags().StringVar(&devResponder, "responder", "", "scripted or openai")
	devServerCmd.Flags().Float64Var(&devTokenRate, "token-rate", 0, "tokens per second per stream")

	rootCmd.AddCommand(chatCmd, askCmd, devServerCmd, versionCmd)
}

// loadSettings loads the config file, applies flag overrides, and sets the
// output personality.
func loadSettings(cmd *cobra.Command, args []string) error {
	var err error
	if configPath != "" {
		moviConfig, err = config.LoadFrom(configPath)
	} else if err = config.Load(); err == nil {
		moviConfig = config.Global
	}
	if err != nil {
		return err
	}

	if contextPath != "" {
		moviConfig.ContextPath = contextPath
	}
	if apiURL != "" {
		moviConfig.APIURL = apiURL
		if err := config.Validate(moviConfig); err != nil {
			return err
		}
	}

	if personalityLevel != "" {
		ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
	} else {
		ux.InitPersonality(moviConfig.Personality)
	}
	return nil
}
