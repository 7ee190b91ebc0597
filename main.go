package main

import "github.com/schovi/mediarec/cmd"

func main() {
	cmd.Execute()
}
