package main

import "github.com/threatscope/console/cmd"

func main() {
	cmd.Execute()
}
