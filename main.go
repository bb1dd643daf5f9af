package main

import "github.com/itsmostafa/gocell/cmd"

func main() {
	cmd.Execute()
}
