package main

import "github.com/maximbilan/vaultai/cmd"

func main() {
	cmd.Execute()
}
