package main

import "github.com/agentic-research/treesync/cmd"

func main() {
	cmd.Execute()
}
