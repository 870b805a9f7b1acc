package main

import "github.com/rua-project/rua/cmd"

func main() {
	cmd.Execute()
}
