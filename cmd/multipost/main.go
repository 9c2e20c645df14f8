package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/ksato/multipost/internal/app"
)

func main() {
	// .envはローカル開発用。存在しない場合は環境変数のみを使用する。
	_ = godotenv.Load()

	if err := app.Run(os.Stderr, os.Args[1:]); err != nil {
		slog.Error("application exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
