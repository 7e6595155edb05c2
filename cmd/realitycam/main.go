package main

import (
	"os"

	"github.com/LucaDeLeo/realitycam-sub004/cmd/realitycam/cmd"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/clierror"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(clierror.ExitCodeOf(err))
	}
}
