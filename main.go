package main

import "github.com/macrokit/promex/cmd"

func main() {
	cmd.Execute()
}
