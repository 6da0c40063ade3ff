package main

import (
	"fmt"
	"os"

	"github.com/ayo6706/venue-payments/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "venue-payments: %v\n", err)
		os.Exit(1)
	}
}
