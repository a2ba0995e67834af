package main

import (
	"log/slog"
	"os"

	"github.com/user/chorus/internal/cli"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
