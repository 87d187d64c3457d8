package main

import "github.com/UrbsKali/CoupeDeRobotique-OFF/cmd/cli/command"

func main() {
	command.Execute()
}
