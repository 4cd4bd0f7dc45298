package main

import "bridge-sentinel/internal/cli"

func main() {
	cli.Execute()
}
