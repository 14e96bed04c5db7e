package main

import "github.com/kamusis/cc-attack/cmd"

func main() {
	cmd.Execute()
}
