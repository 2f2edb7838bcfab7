package main

import (
	"github.com/Paintersrp/serverlaunch/internal/cli"
	"github.com/Paintersrp/serverlaunch/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
