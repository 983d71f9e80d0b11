package main

import "github.com/linenworks/linengate/cmd/linengate/cmd"

func main() {
	cmd.Execute()
}
