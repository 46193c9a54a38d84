package main

import "github.com/ftl/multirx/cmd"

func main() {
	cmd.Execute()
}
