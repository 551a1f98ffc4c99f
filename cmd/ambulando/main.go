package main

import (
	"os"

	"github.com/humansinstitute/ambulando-sub000/cmd/ambulando/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
