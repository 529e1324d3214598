package main

import "github.com/icotes/agenthub/cmd"

func main() {
	cmd.Execute()
}
