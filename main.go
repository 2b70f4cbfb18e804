package main

import "mood-pulse-backend/cmd"

func main() {
	cmd.Run()
}
