package main

import "github.com/SanGraphic/gamemode/cmd"

func main() {
	cmd.Execute()
}
