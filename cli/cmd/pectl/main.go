package main

import "github.com/pdvrieze/ProcessManager-sub007/cli/commands"

func main() {
	commands.Execute()
}
