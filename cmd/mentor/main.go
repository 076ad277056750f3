package main

import (
	"os"

	"github.com/Toobanaz/ai-audience-mentor/cmd/mentor/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
