package main

import "github.com/deskcast/deskcast/cmd/deskcast/commands"

func main() {
	commands.Execute()
}
