package main

import "github.com/matchvision/player-gallery/cmd"

func main() {
	cmd.Execute()
}
