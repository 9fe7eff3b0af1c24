package main

import "github.com/camden-git/faceingest/cmd"

func main() {
	cmd.Execute()
}
