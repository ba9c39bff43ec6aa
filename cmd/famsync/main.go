package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/famsync/internal/client/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "famsync:", err)
		os.Exit(1)
	}
}
