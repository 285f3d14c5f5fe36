package main

import "github.com/stephnangue/azgraph/cmd"

func main() {
	cmd.Execute()
}
