package main

import "depth-safety-alerts/internal/cli"

func main() {
	cli.Execute()
}
