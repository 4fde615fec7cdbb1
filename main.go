package main

import "llmgate/cmd"

func main() {
	cmd.Execute()
}
