// Command devsync runs the DevSync room sync service.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dalemusser/devsync/internal/app/bootstrap"
	"github.com/dalemusser/waffle/app"
)

func main() {
	if err := app.Run(context.Background(), bootstrap.Hooks); err != nil {
		fmt.Fprintln(os.Stderr, "devsync:", err)
		os.Exit(1)
	}
}
