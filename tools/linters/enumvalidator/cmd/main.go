package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"github.com/NEAR-DevHub/devbot/tools/linters/enumvalidator"
)

func main() {
	singlechecker.Main(enumvalidator.Analyzer)
}
