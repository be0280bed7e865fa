package main

import (
	"os"

	"github.com/JonMunkholm/shopsheet/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
