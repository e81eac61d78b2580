package main

import (
	"device-health-alerts/internal/cli"
)

func main() {
	cli.Execute()
}
