package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"qforge/internal/services"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		code := services.ExitCode(err)
		if code == 0 {
			code = 1
		}
		os.Exit(code)
	}
}
