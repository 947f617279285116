// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command movi is the terminal client for the Movi fleet assistant.
package main

import (
	"errors"
	"os"

	"github.com/jinterlante1206/movi-assistant/pkg/ux"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		// The fallback reply has already been printed.
		if !errors.Is(err, errTurnFailed) {
			ux.Error(err.Error())
		}
		os.Exit(1)
	}
}
