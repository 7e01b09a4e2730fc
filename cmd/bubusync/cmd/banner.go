package cmd

import (
	"fmt"

	"github.com/common-nighthawk/go-figure"
)

func printBanner(mode string) {
	figure.NewFigure("bubusync", "cybermedium", true).Print()
	fmt.Printf("\n  %s mode - version %s\n\n", mode, Version)
}
